// Package cmd provides the command-line interface for bang.
//
// # Available Commands
//
//   - render: Expand the component markers of a page into static HTML
//   - serve: Serve a directory of pages with live reload
//   - watch: Re-render a page whenever it or its components change
//   - new: Scaffold a component folder
//   - version: Show build information
//
// # Command Examples
//
//	// Expand a page, registering every component it references
//	bang render index.html -o dist/index.html
//
//	// Seed the state store from a YAML file
//	bang render index.html --state state.yml
//
//	// Serve the current directory on port 3000
//	bang serve --port 3000
//
//	// Create components/my-card from the card template
//	bang new my-card --template card
//
// # Configuration
//
// Settings are read from .bang.yml in the working directory, the file named
// by --config or BANG_CONFIG_FILE, and BANG_ environment variables.
package cmd
