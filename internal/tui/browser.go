package tui

import "github.com/pkg/browser"

// openBrowser opens url in the default browser.
func openBrowser(url string) error {
	return browser.OpenURL(url)
}
