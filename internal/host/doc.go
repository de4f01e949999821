// Package host is the minimal editor-side surface the bridge needs: open a
// document by URI, keep unsaved buffers, and resolve extension-relative
// paths.
package host
