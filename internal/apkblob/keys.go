package apkblob

import "path"

func APKKey(profile, name string) string {
	return path.Join(profile, "apk", name+".apk")
}

func UnsignedAPKKey(profile, name string) string {
	return path.Join(profile, "apk", ".tmp", name+".unsigned.apk")
}

func AssetLinksKey(profile, name string) string {
	return path.Join(profile, "apk", name+".assetlinks.json")
}
