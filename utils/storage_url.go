package utils

import (
	"net/url"
	"os"
	"path"
	"strings"
)

// Every stored report object lives under reports/<reportId>/ in GCS_BUCKET:
// attachments/<uuid><ext> for attachments and report-v<version><ext> for rendered documents.
const reportObjectRoot = "reports"

// ReportObjectKey joins parts under the report's object prefix.
func ReportObjectKey(reportId string, parts ...string) string {
	return path.Join(append([]string{reportObjectRoot, reportId}, parts...)...)
}

// ReportObjectReference is the durable reference stored on reports for an object key:
// https://<GCS_URL>/<GCS_BUCKET>/<key> when both are set, gs://<GCS_BUCKET>/<key> with only a bucket.
func ReportObjectReference(objectKey string) string {
	host := strings.TrimSpace(os.Getenv("GCS_URL"))
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	switch {
	case host != "" && bucket != "":
		return "https://" + host + "/" + bucket + "/" + objectKey
	case bucket != "":
		return "gs://" + bucket + "/" + objectKey
	}
	return objectKey
}

// ParseReportObjectReference recovers the owning report id and object key from a reference.
// It accepts bare keys, gs:// URIs and the GCS https forms, and refuses anything that does not
// resolve to reports/<id>/<name> without traversal.
func ParseReportObjectReference(reference string) (reportId string, objectKey string, ok bool) {
	key := objectKeyOf(strings.TrimSpace(reference))
	segments := strings.Split(key, "/")
	if len(segments) < 3 || segments[0] != reportObjectRoot {
		return "", "", false
	}
	for _, s := range segments {
		if s == "" || s == "." || s == ".." {
			return "", "", false
		}
	}
	return segments[1], key, true
}

func objectKeyOf(reference string) string {
	if rest, found := strings.CutPrefix(reference, "gs://"); found {
		_, key, _ := strings.Cut(rest, "/")
		return key
	}
	if !strings.Contains(reference, "://") {
		return reference
	}
	parsed, err := url.Parse(reference)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Host)
	p := strings.TrimPrefix(parsed.Path, "/")
	switch {
	case strings.HasSuffix(host, ".storage.googleapis.com"):
		return p
	case host == "storage.googleapis.com", host == "storage.cloud.google.com", host == strings.ToLower(strings.TrimSpace(os.Getenv("GCS_URL"))):
		_, key, _ := strings.Cut(p, "/")
		return key
	}
	return ""
}
