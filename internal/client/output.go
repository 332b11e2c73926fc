package client

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/torfstack/twin/internal/protocol"
	"github.com/torfstack/twin/internal/util"
)

// SavedFile is a payload persisted to the output directory.
type SavedFile struct {
	Path string
	Size int
}

// Save writes the payloads of r into outDir, named after the base name of
// the requested path. Replies without payloads write nothing.
func (r *Response) Save(outDir, requestPath string) ([]SavedFile, error) {
	base := baseName(requestPath)
	var names []string
	switch r.Header.Kind {
	case protocol.HeaderMatch:
		names = []string{base}
	case protocol.HeaderOnly:
		names = []string{fmt.Sprintf("%s_only_server_%d", base, r.Header.Which)}
	case protocol.HeaderDiff:
		names = []string{base + "_server1", base + "_server2"}
	default:
		return nil, nil
	}

	saved := make([]SavedFile, 0, len(names))
	for i, name := range names {
		path := filepath.Join(outDir, name)
		if err := util.WriteFile(path, r.Payloads[i]); err != nil {
			return saved, fmt.Errorf("could not write '%s': %w", path, err)
		}
		saved = append(saved, SavedFile{Path: path, Size: len(r.Payloads[i])})
	}
	return saved, nil
}

// Describe returns the human readable summary printed for a reply.
func (r *Response) Describe(saved []SavedFile) string {
	for len(saved) < len(r.Payloads) {
		saved = append(saved, SavedFile{})
	}
	var msg string
	switch r.Header.Kind {
	case protocol.HeaderNotFound:
		msg = "File not found on both servers - Server_1 and Server_2"
	case protocol.HeaderMatch:
		msg = fmt.Sprintf("File is matching on both the servers and output saved to %s (%d bytes)", saved[0].Path, saved[0].Size)
	case protocol.HeaderOnly:
		msg = fmt.Sprintf("File is available (only on Server %d) to %s (%d bytes)", r.Header.Which, saved[0].Path, saved[0].Size)
	case protocol.HeaderDiff:
		msg = fmt.Sprintf("Found difference in files: %s (%d bytes), %s (%d bytes)",
			saved[0].Path, saved[0].Size, saved[1].Path, saved[1].Size)
	case protocol.HeaderErr:
		msg = "Server error: " + r.Header.Reason
	default:
		msg = "Unknown header from server: " + r.Header.Raw
	}
	if r.Truncated {
		msg += " [truncated: fewer bytes received than declared]"
	}
	return msg
}

func baseName(p string) string {
	base := filepath.Base(filepath.FromSlash(strings.TrimRight(p, "/\\")))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "file"
	}
	return base
}
