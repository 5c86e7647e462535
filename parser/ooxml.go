package parser

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
)

// Shared helpers for the zip+xml Office formats (DOCX, PPTX).

const (
	wordNS    = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	drawingNS = "http://schemas.openxmlformats.org/drawingml/2006/main"
)

// emuPerPoint converts OOXML English Metric Units to points.
const emuPerPoint = 12700.0

func zipIndex(r *zip.ReadCloser) map[string]*zip.File {
	fileIndex := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileIndex[f.Name] = f
	}
	return fileIndex
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", zf.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// relationships represents the .rels XML structure.
type relationships struct {
	XMLName xml.Name       `xml:"Relationships"`
	Rels    []relationship `xml:"Relationship"`
}

type relationship struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
	Type   string `xml:"Type,attr"`
}

// parseRels reads a .rels part and returns a map of rId -> target path.
func parseRels(fileIndex map[string]*zip.File, relsPath string) map[string]string {
	relsFile := fileIndex[relsPath]
	if relsFile == nil {
		return nil
	}
	data, err := readZipFile(relsFile)
	if err != nil {
		return nil
	}

	var rels relationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}

	result := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		result[rel.ID] = rel.Target
	}
	return result
}

// mediaFile resolves the image a blip embeds. base is the directory the
// relationship targets are relative to, e.g. "word".
func mediaFile(se xml.StartElement, base string, rels map[string]string, fileIndex map[string]*zip.File) (data []byte, ext string, ok bool) {
	var embedID string
	for _, attr := range se.Attr {
		if attr.Name.Local == "embed" {
			embedID = attr.Value
			break
		}
	}
	if embedID == "" {
		return nil, "", false
	}
	target, found := rels[embedID]
	if !found {
		return nil, "", false
	}

	mediaPath := path.Clean(path.Join(base, strings.ReplaceAll(target, "\\", "/")))
	zf := fileIndex[mediaPath]
	if zf == nil {
		slog.Debug("ooxml: image file not found in ZIP", "path", mediaPath, "rId", embedID)
		return nil, "", false
	}
	data, err := readZipFile(zf)
	if err != nil {
		slog.Debug("ooxml: failed to read image file", "path", mediaPath, "error", err)
		return nil, "", false
	}
	return data, path.Ext(zf.Name), true
}

func attrValue(se xml.StartElement, local string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}
