package android

import (
	"fmt"
	"strings"
)

const permissionPrefix = "android.permission."

var permissions = map[string]bool{}

func init() {
	for _, name := range []string{
		"ACCESS_BACKGROUND_LOCATION",
		"ACCESS_COARSE_LOCATION",
		"ACCESS_FINE_LOCATION",
		"ACCESS_MEDIA_LOCATION",
		"ACCESS_NETWORK_STATE",
		"ACCESS_WIFI_STATE",
		"ACTIVITY_RECOGNITION",
		"BLUETOOTH",
		"BLUETOOTH_ADMIN",
		"BLUETOOTH_ADVERTISE",
		"BLUETOOTH_CONNECT",
		"BLUETOOTH_SCAN",
		"BODY_SENSORS",
		"CALL_PHONE",
		"CAMERA",
		"CHANGE_NETWORK_STATE",
		"CHANGE_WIFI_MULTICAST_STATE",
		"CHANGE_WIFI_STATE",
		"FOREGROUND_SERVICE",
		"GET_ACCOUNTS",
		"HIGH_SAMPLING_RATE_SENSORS",
		"INTERNET",
		"MANAGE_EXTERNAL_STORAGE",
		"MODIFY_AUDIO_SETTINGS",
		"NFC",
		"POST_NOTIFICATIONS",
		"READ_CALENDAR",
		"READ_CONTACTS",
		"READ_EXTERNAL_STORAGE",
		"READ_MEDIA_AUDIO",
		"READ_MEDIA_IMAGES",
		"READ_MEDIA_VIDEO",
		"READ_PHONE_STATE",
		"RECEIVE_BOOT_COMPLETED",
		"RECORD_AUDIO",
		"REQUEST_INSTALL_PACKAGES",
		"SCHEDULE_EXACT_ALARM",
		"SEND_SMS",
		"SYSTEM_ALERT_WINDOW",
		"USE_BIOMETRIC",
		"USE_FINGERPRINT",
		"VIBRATE",
		"WAKE_LOCK",
		"WRITE_CALENDAR",
		"WRITE_CONTACTS",
		"WRITE_EXTERNAL_STORAGE",
		"WRITE_SETTINGS",
	} {
		permissions[name] = true
	}
}

// CanonicalPermission turns a permission token such as INTERNET or
// android.permission.INTERNET into its fully-qualified name.
func CanonicalPermission(token string) (string, error) {
	short := strings.TrimPrefix(strings.TrimSpace(token), permissionPrefix)
	if !permissions[short] {
		return "", fmt.Errorf("unknown permission %q", token)
	}

	return permissionPrefix + short, nil
}
