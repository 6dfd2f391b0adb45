package apkregexp

func IsPackageName(name string) bool {
	return PackageName.MatchString(name)
}

func IsLibName(name string) bool {
	return LibName.MatchString(name)
}

func IsCrateName(name string) bool {
	return CrateName.MatchString(name)
}

func IsSerial(name string) bool {
	return Serial.MatchString(name)
}
