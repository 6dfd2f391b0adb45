package android

import (
	"bytes"
	"encoding/xml"
	"strings"
)

const (
	AndroidManifestName = "AndroidManifest.xml"
	// NamespaceAndroid is the XML namespace of android:-prefixed attributes.
	NamespaceAndroid = "http://schemas.android.com/apk/res/android"
)

type Manifest struct {
	XMLName        xml.Name                 `xml:"manifest"`
	UsesSDK        *ManifestUsesSDK         `xml:"uses-sdk"`
	UsesPermission []ManifestUsesPermission `xml:"uses-permission"`
	UsesFeature    []ManifestUsesFeature    `xml:"uses-feature"`
	Permission     []ManifestPermission     `xml:"permission"`
	Application    ManifestApplication      `xml:"application"`
	Attrs          []xml.Attr               `xml:",any,attr"`
}

func (m *Manifest) Package() string {
	return attrValue(m.Attrs, "package")
}

// Permissions returns the android:name of every uses-permission element in document order.
func (m *Manifest) Permissions() []string {
	names := make([]string, 0, len(m.UsesPermission))
	for _, p := range m.UsesPermission {
		names = append(names, attrValue(p.Attrs, "name"))
	}

	return names
}

// NativeLibraries returns the value of every per-ABI native library meta-data
// entry on the application element, keyed by ABI.
func (m *Manifest) NativeLibraries() map[string]string {
	libs := map[string]string{}
	for _, md := range m.Application.Metadata {
		if abi, ok := strings.CutPrefix(attrValue(md.Attrs, "name"), MetadataNativeLibraryPrefix); ok {
			libs[abi] = attrValue(md.Attrs, "value")
		}
	}

	return libs
}

// ExtractsNativeLibs reports whether the platform copies native libraries out
// of the package on install rather than loading them from it in place.
func (m *Manifest) ExtractsNativeLibs() bool {
	return attrValue(m.Application.Attrs, "extractNativeLibs") != "false"
}

// Encode serializes the Manifest as indented markup preceded by the XML header.
// Its output is a pure function of the Manifest.
func (m *Manifest) Encode() ([]byte, error) {
	buf := bytes.NewBufferString(xml.Header)

	enc := xml.NewEncoder(buf)
	enc.Indent("", "    ")

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	if err := enc.Close(); err != nil {
		return nil, err
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

type ManifestUsesSDK struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type ManifestUsesPermission struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type ManifestUsesFeature struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type ManifestPermission struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type ManifestApplication struct {
	Metadata        []ManifestApplicationMetadata `xml:"meta-data"`
	Activities      []ManifestApplicationActivity `xml:"activity"`
	ActivityAliases []ManifestApplicationActivity `xml:"activity-alias"`
	Receivers       []ManifestApplicationActivity `xml:"receiver"`
	Services        []ManifestApplicationActivity `xml:"service"`
	Providers       []ManifestApplicationActivity `xml:"provider"`
	UsesLibraries   []ManifestApplicationMetadata `xml:"uses-library"`
	Attrs           []xml.Attr                    `xml:",any,attr"`
}

type ManifestApplicationActivity struct {
	Metadata     []ManifestApplicationMetadata    `xml:"meta-data"`
	IntentFilter *ManifestApplicationIntentFilter `xml:"intent-filter"`
	Attrs        []xml.Attr                       `xml:",any,attr"`
}

func (a *ManifestApplicationActivity) Name() string {
	return attrValue(a.Attrs, "name")
}

type ManifestApplicationIntentFilter struct {
	Actions    []ManifestApplicationMetadata `xml:"action"`
	Categories []ManifestApplicationMetadata `xml:"category"`
}

type ManifestApplicationMetadata struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

// androidAttr builds an android:-prefixed attribute. The prefix is written
// literally since encoding/xml does not emit declared prefixes for Name.Space.
func androidAttr(local, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: "android:" + local}, Value: value}
}

// attrValue finds local among attrs whether they were built by androidAttr
// or decoded from a document that resolved the android namespace.
func attrValue(attrs []xml.Attr, local string) string {
	for _, attr := range attrs {
		switch {
		case attr.Name.Space == "" && attr.Name.Local == local:
			return attr.Value
		case attr.Name.Space == "" && attr.Name.Local == "android:"+local:
			return attr.Value
		case (attr.Name.Space == NamespaceAndroid || attr.Name.Space == "android") && attr.Name.Local == local:
			return attr.Value
		}
	}

	return ""
}
