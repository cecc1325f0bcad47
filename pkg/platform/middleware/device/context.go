// Package device derives a coarse, non-identifying device description from the
// User-Agent for audit events.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Info is the device description attached to audit events.
type Info struct {
	Browser  string `json:"browser,omitempty"`
	Platform string `json:"platform,omitempty"`
	OS       string `json:"os,omitempty"`
	Mobile   bool   `json:"mobile"`
	Bot      bool   `json:"bot"`
}

// Describe parses a User-Agent header. An empty header yields the zero Info.
func Describe(userAgent string) Info {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Info{}
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	browser := name
	if version != "" {
		browser = name + " " + version
	}
	return Info{
		Browser:  browser,
		Platform: ua.Platform(),
		OS:       ua.OS(),
		Mobile:   ua.Mobile(),
		Bot:      ua.Bot(),
	}
}
