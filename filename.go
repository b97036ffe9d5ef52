package haul

import (
	"net/url"
	"path/filepath"
)

// GetFilename returns a default file name derived from a URL.
func GetFilename(URL string) string {

	if u, err := url.Parse(URL); err == nil && filepath.Ext(u.Path) != "" {

		return filepath.Base(u.Path)
	}

	return "haul.output"
}
