// Package rewrite turns a raw hit URL into the form kept in offline storage.
//
// A stored hit carries cn=offline and an olt (origin local time) parameter
// injected right after the first ts or mh component. Hits without either key
// never receive olt; downstream consumers read its absence as a signal.
package rewrite

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	keyConnection = "cn"
	keyTimestamp  = "ts"
	keyMultihit   = "mh"
	keyOriginTime = "olt"

	offline = "offline"
)

// Rewrite returns hitURL with every cn component set to offline and
// olt=originTime inserted after the first ts or mh component.
// A URL without scheme, host or query is returned unchanged.
func Rewrite(hitURL, originTime string) string {
	u, err := url.Parse(hitURL)
	if err != nil || u.Scheme == "" || u.Host == "" || u.RawQuery == "" {
		return hitURL
	}

	components := strings.Split(u.RawQuery, "&")
	out := make([]string, 0, len(components)+1)
	oltAdded := false
	for _, c := range components {
		if c == "" {
			continue
		}
		key, _, _ := strings.Cut(c, "=")
		if key == keyConnection {
			out = append(out, keyConnection+"="+offline)
		} else {
			out = append(out, c)
		}
		if !oltAdded && (key == keyTimestamp || key == keyMultihit) {
			out = append(out, keyOriginTime+"="+originTime)
			oltAdded = true
		}
	}

	rebuilt := url.URL{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: strings.Join(out, "&"),
	}
	return rebuilt.String()
}

// OriginTime picks the olt value for a hit: the shared multihit origin time
// when one is given, the current time otherwise.
func OriginTime(multihit string, now time.Time) string {
	if multihit != "" {
		return multihit
	}
	return FormatOriginTime(now)
}

// FormatOriginTime renders t as seconds since epoch with microsecond precision.
func FormatOriginTime(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}
