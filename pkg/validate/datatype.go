package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hpconf/hpconf/pkg/schema"
)

// Port bounds. A port range may start at 0; a single port may not.
const (
	MinPort = 1
	MaxPort = 65535
)

// datatypeTags maps datatype tags to validator tags.
var datatypeTags = map[schema.Datatype]string{
	schema.DatatypeHostname:  "hostname_rfc1123",
	schema.DatatypeHost:      "ip|hostname_rfc1123",
	schema.DatatypeIPAddr:    "ip|cidr",
	schema.DatatypeIP4Addr:   "ipv4|cidrv4",
	schema.DatatypeIP6Addr:   "ipv6|cidrv6",
	schema.DatatypeCIDR:      "cidr",
	schema.DatatypePort:      "port",
	schema.DatatypePortRange: "portrange",
	schema.DatatypeUInteger:  "number",
}

var datatypeMessages = map[schema.Datatype]string{
	schema.DatatypeHostname:  "expecting a valid hostname",
	schema.DatatypeHost:      "expecting a valid IP address or hostname",
	schema.DatatypeIPAddr:    "expecting a valid IP address",
	schema.DatatypeIP4Addr:   "expecting a valid IPv4 address",
	schema.DatatypeIP6Addr:   "expecting a valid IPv6 address",
	schema.DatatypeCIDR:      "expecting a valid CIDR notation",
	schema.DatatypePort:      "expecting a valid port",
	schema.DatatypePortRange: "expecting a valid port range",
	schema.DatatypeUInteger:  "expecting an unsigned integer",
}

// newValidator creates a validator with the custom datatype tags registered.
func newValidator() (*validator.Validate, error) {
	v := validator.New()

	if err := v.RegisterValidation("port", func(fl validator.FieldLevel) bool {
		_, err := parsePort(fl.Field().String(), MinPort)
		return err == nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register port validation: %w", err)
	}

	if err := v.RegisterValidation("portrange", func(fl validator.FieldLevel) bool {
		_, err := ParsePortRange(fl.Field().String())
		return err == nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register portrange validation: %w", err)
	}

	return v, nil
}

// checkDatatype validates value against a datatype tag and returns the
// normalized value.
func checkDatatype(v *validator.Validate, dt schema.Datatype, value string) (string, error) {
	if dt == schema.DatatypeNone {
		return value, nil
	}
	tag, ok := datatypeTags[dt]
	if !ok {
		return "", fmt.Errorf("unknown datatype %q", dt)
	}
	if err := v.Var(value, tag); err != nil {
		return "", fmt.Errorf("%s", datatypeMessages[dt])
	}

	switch dt {
	case schema.DatatypePortRange:
		return ParsePortRange(value)
	case schema.DatatypePort, schema.DatatypeUInteger:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return "", fmt.Errorf("%s", datatypeMessages[dt])
		}
		return strconv.FormatUint(n, 10), nil
	}
	return value, nil
}

func parsePort(s string, lowest int) (int, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lowest || n > MaxPort {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return n, nil
}

// ParsePortRange parses "start:end" where either side may be omitted: an
// omitted start is 0 and an omitted end is 65535. At least one side must be
// given and start must be lower than end. The normalized "start:end" form is
// returned, e.g. ":2000" becomes "0:2000".
func ParsePortRange(s string) (string, error) {
	startStr, endStr, found := strings.Cut(s, ":")
	if !found {
		return "", fmt.Errorf("expecting a port range in start:end form")
	}
	if startStr == "" && endStr == "" {
		return "", fmt.Errorf("port range needs a start or an end")
	}

	start, end := 0, MaxPort
	var err error
	if startStr != "" {
		if start, err = parsePort(startStr, 0); err != nil {
			return "", err
		}
	}
	if endStr != "" {
		if end, err = parsePort(endStr, 0); err != nil {
			return "", err
		}
	}
	if start >= end {
		return "", fmt.Errorf("port range start %d must be lower than end %d", start, end)
	}
	return fmt.Sprintf("%d:%d", start, end), nil
}

// NormalizeFlag maps common boolean spellings to "1" or "0".
func NormalizeFlag(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on", "enabled":
		return schema.FlagEnabled, true
	case "0", "false", "no", "off", "disabled":
		return schema.FlagDisabled, true
	}
	return "", false
}
