package evidence

import (
	"encoding/base64"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"nhaguard/internal/domain"
)

const defaultMimeType = "application/octet-stream"

// dataURIMarker separates a data-URI prefix from the payload proper.
// Producers sometimes send "data:application/pdf;base64,JVBERi..." in the
// base64 field; everything up to and including the marker is stripped.
const dataURIMarker = "base64,"

// Normalizer converts heterogeneous evidence descriptors into canonical
// records in the cache. Only the manifest (ids plus metadata) flows onward;
// content never travels by value past this point.
type Normalizer struct {
	Cache             *Cache
	AllowedExtensions []string
	Logger            *slog.Logger
}

func NewNormalizer(cache *Cache, allowed []string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{Cache: cache, AllowedExtensions: allowed, Logger: logger}
}

// Normalize resolves each descriptor to content, stores it, and returns the
// manifest. A descriptor with no usable content source is skipped, not an
// error: upstream producers may legitimately send partial metadata.
func (n *Normalizer) Normalize(items []domain.EvidenceDescriptor) []domain.ManifestEntry {
	manifest := make([]domain.ManifestEntry, 0, len(items))
	for i, item := range items {
		if !n.extensionAllowed(item.FileName) {
			n.Logger.Debug("evidence extension not allowed", "file", item.FileName)
			continue
		}
		content, ok := resolveContent(item)
		if !ok {
			n.Logger.Debug("evidence descriptor has no content source", "index", i, "file", item.FileName)
			continue
		}
		rec := domain.EvidenceRecord{
			FileName: item.FileName,
			MimeType: resolveMimeType(item),
			Content:  content,
		}
		id := n.Cache.Put(rec)
		manifest = append(manifest, domain.ManifestEntry{
			ID:       id,
			FileName: rec.FileName,
			MimeType: rec.MimeType,
			Size:     len(content),
		})
	}
	return manifest
}

func (n *Normalizer) extensionAllowed(fileName string) bool {
	if len(n.AllowedExtensions) == 0 || fileName == "" {
		return true
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, allowed := range n.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// resolveContent tries the content sources in fixed order: inline text,
// base64 or raw bytes, filesystem path.
func resolveContent(item domain.EvidenceDescriptor) ([]byte, bool) {
	if item.Text != "" {
		return []byte(item.Text), true
	}
	if item.Base64 != "" {
		payload := stripDataURI(item.Base64)
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, false
		}
		return decoded, true
	}
	if len(item.Bytes) > 0 {
		return item.Bytes, true
	}
	if item.Path != "" {
		info, err := os.Stat(item.Path)
		if err != nil || !info.Mode().IsRegular() {
			return nil, false
		}
		data, err := os.ReadFile(item.Path)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

// stripDataURI drops everything up to and including the data-URI marker.
// The marker is only honored near the head of the payload so that a marker
// occurring inside legitimate base64 text is left alone.
func stripDataURI(b64 string) string {
	head := b64
	if len(head) > 80 {
		head = head[:80]
	}
	if idx := strings.Index(head, dataURIMarker); idx >= 0 {
		return b64[idx+len(dataURIMarker):]
	}
	return b64
}

func resolveMimeType(item domain.EvidenceDescriptor) string {
	if item.MimeType != "" {
		return item.MimeType
	}
	if ext := filepath.Ext(item.FileName); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}
	return defaultMimeType
}

// FilterManifest keeps entries whose file name contains appName
// (case-insensitive). A filter that matches nothing falls back to the full
// manifest so a naming mismatch never silently runs a workflow without
// evidence.
func FilterManifest(manifest []domain.ManifestEntry, appName string) []domain.ManifestEntry {
	if appName == "" {
		return manifest
	}
	needle := strings.ToLower(appName)
	var filtered []domain.ManifestEntry
	for _, entry := range manifest {
		if strings.Contains(strings.ToLower(entry.FileName), needle) {
			filtered = append(filtered, entry)
		}
	}
	if len(filtered) == 0 {
		return manifest
	}
	return filtered
}
