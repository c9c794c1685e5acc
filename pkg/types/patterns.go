// Package types holds constrained string kinds used by text fields:
// compiled validation patterns plus small named types for values that
// carry a format, like addresses, ports and version numbers.
package types

import (
	"fmt"
	"regexp"
)

// Validation patterns, anchored for full-string matching.
var (
	IPv4Pattern = regexp.MustCompile(
		`^(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)(\.(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)){3}$`)

	IPv6Pattern = regexp.MustCompile(
		`^(([0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}|([0-9a-fA-F]{1,4}:){1,7}:|([0-9a-fA-F]{1,4}:)` +
			`{1,6}:[0-9a-fA-F]{1,4}|([0-9a-fA-F]{1,4}:){1,5}(:[0-9a-fA-F]{1,4}){1,2}|([0-9a-fA-F]{1,4}:)` +
			`{1,4}(:[0-9a-fA-F]{1,4}){1,3}|([0-9a-fA-F]{1,4}:){1,3}(:[0-9a-fA-F]{1,4}){1,4}|([0-9a-fA-F]` +
			`{1,4}:){1,2}(:[0-9a-fA-F]{1,4}){1,5}|[0-9a-fA-F]{1,4}:((:[0-9a-fA-F]{1,4}){1,6})|:((:[0-9a-fA-F]` +
			`{1,4}){1,7}|:)|fe80:(:[0-9a-fA-F]{0,4}){0,4}%[0-9a-zA-Z]+|::(ffff(:0{1,4})?:)?` +
			`((25[0-5]|(2[0-4]|1?[0-9])?[0-9])\.){3}(25[0-5]|(2[0-4]|1?[0-9])?[0-9])|` +
			`([0-9a-fA-F]{1,4}:){1,4}:((25[0-5]|(2[0-4]|1?[0-9])?[0-9])\.){3}(25[0-5]|(2[0-4]|1?[0-9])?[0-9]))$`)

	PortPattern = regexp.MustCompile(
		`^((6553[0-5])|(655[0-2][0-9])|(65[0-4][0-9]{2})|(6[0-4][0-9]{3})|([1-5][0-9]{4})|([0-9]{1,4}))$`)

	MacPattern = regexp.MustCompile(`^[a-fA-F0-9]{2}(:[a-fA-F0-9]{2}){5}$`)

	PhonePattern = regexp.MustCompile(`^\+?\(?[0-9]{3}\)?[-\s.]?[0-9]{3}[-\s.]?[0-9]{4,6}$`)

	EmailPattern = regexp.MustCompile(
		`^(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|` +
			`(".+"))@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\])|(([a-zA-Z\-0-9]+\.)+[a-zA-Z]{2,}))$`)

	HashtagPattern = regexp.MustCompile(`^#[^ !@#$%^&*(),.?":{}|<>]*$`)

	URLPattern = regexp.MustCompile(
		`^https?://(www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()!@:%_+.~#?&/=]*)$`)

	VersionPattern = regexp.MustCompile(
		`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-]` +
			`[0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+` +
			`([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)
)

type (
	IPv4    string
	IPv6    string
	Port    string
	Mac     string
	Phone   string
	Email   string
	Hashtag string
	URL     string
	Version string
)

func parse(pattern *regexp.Regexp, kind, value string) (string, error) {
	if !pattern.MatchString(value) {
		return "", fmt.Errorf("value %q is not a valid %s", value, kind)
	}
	return value, nil
}

func ParseIPv4(value string) (IPv4, error) {
	v, err := parse(IPv4Pattern, "IPv4 address", value)
	return IPv4(v), err
}

func ParseIPv6(value string) (IPv6, error) {
	v, err := parse(IPv6Pattern, "IPv6 address", value)
	return IPv6(v), err
}

func ParsePort(value string) (Port, error) {
	v, err := parse(PortPattern, "port number", value)
	return Port(v), err
}

func ParseMac(value string) (Mac, error) {
	v, err := parse(MacPattern, "MAC address", value)
	return Mac(v), err
}

func ParsePhone(value string) (Phone, error) {
	v, err := parse(PhonePattern, "phone number", value)
	return Phone(v), err
}

func ParseEmail(value string) (Email, error) {
	v, err := parse(EmailPattern, "email address", value)
	return Email(v), err
}

func ParseHashtag(value string) (Hashtag, error) {
	v, err := parse(HashtagPattern, "hashtag", value)
	return Hashtag(v), err
}

func ParseURL(value string) (URL, error) {
	v, err := parse(URLPattern, "URL", value)
	return URL(v), err
}

func ParseVersion(value string) (Version, error) {
	v, err := parse(VersionPattern, "semantic version", value)
	return Version(v), err
}
