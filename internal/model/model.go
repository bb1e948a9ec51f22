// Package model defines core domain types shared across the services.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// AssetDescriptor describes one immutable cached file. The JSON shape is the
// metadata index record format and also the wire format returned by /find.
type AssetDescriptor struct {
	Springname string   `json:"springname"`
	Filename   string   `json:"filename"`
	Category   string   `json:"category"`
	Path       string   `json:"path"`
	MD5        string   `json:"md5"`
	Size       int64    `json:"size"`
	Timestamp  string   `json:"timestamp"`
	Tags       []string `json:"tags"`
	Mirrors    []string `json:"mirrors"`
}

// SyncRequest is the delivery-queue payload. It carries no content: the
// population service re-resolves authoritative metadata at delivery time.
type SyncRequest struct {
	Category   string `json:"category"`
	Springname string `json:"springname"`
}

var md5Pattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// CacheKey derives the metadata index key for an asset. The format is stable
// across process restarts; both services must agree on it.
func CacheKey(category, springname string) string {
	return fmt.Sprintf("from_name/%s/%s", category, springname)
}

// ContentPath is the canonical relative mirror path stored in the index.
func ContentPath(md5, filename string) string {
	return fmt.Sprintf("file/%s/%s", md5, filename)
}

// ValidMD5 reports whether s looks like a lowercase hex MD5 digest.
func ValidMD5(s string) bool {
	return md5Pattern.MatchString(s)
}

func (a AssetDescriptor) Validate() error {
	if strings.TrimSpace(a.Springname) == "" {
		return errors.New("springname is required")
	}
	if strings.TrimSpace(a.Category) == "" {
		return errors.New("category is required")
	}
	if !ValidMD5(a.MD5) {
		return fmt.Errorf("md5 %q is not a lowercase hex digest", a.MD5)
	}
	return nil
}

func (s SyncRequest) Validate() error {
	if strings.TrimSpace(s.Category) == "" {
		return errors.New("category is required")
	}
	if strings.TrimSpace(s.Springname) == "" {
		return errors.New("springname is required")
	}
	return nil
}
