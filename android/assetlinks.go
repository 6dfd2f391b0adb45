package android

import (
	"encoding/json"
	"io"
)

const (
	AssetLinksName = "assetlinks.json"

	RelationHandleAllURLs = "delegate_permission/common.handle_all_urls"
	NamespaceAndroidApp   = "android_app"
)

type AssetLink struct {
	Relation []string `json:"relation,omitempty"`
	Target   Target   `json:"target,omitempty"`
}

type Target struct {
	Namespace              string   `json:"namespace,omitempty"`
	PackageName            string   `json:"package_name,omitempty"`
	SHA256CertFingerprints []string `json:"sha256_cert_fingerprints,omitempty"`
}

// NewAssetLink returns the Digital Asset Links statement that lets a website
// delegate URL handling to the package signed with the given certificates.
func NewAssetLink(packageName string, sha256CertFingerprints ...string) AssetLink {
	return AssetLink{
		Relation: []string{RelationHandleAllURLs},
		Target: Target{
			Namespace:              NamespaceAndroidApp,
			PackageName:            packageName,
			SHA256CertFingerprints: sha256CertFingerprints,
		},
	}
}

// WriteAssetLinks writes links in the form served at /.well-known/assetlinks.json.
func WriteAssetLinks(w io.Writer, links ...AssetLink) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(links)
}
