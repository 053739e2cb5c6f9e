package rewrite

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOLT = "1700000000.500000"

func TestRewrite_MarksOfflineAndInjectsOLTAfterTimestamp(t *testing.T) {
	in := "https://logs.example.com/hit.xiti?s=1&ts=1720000000&cn=online&mh=1"

	out := Rewrite(in, testOLT)

	assert.Equal(t, "https://logs.example.com/hit.xiti?s=1&ts=1720000000&olt="+testOLT+"&cn=offline&mh=1", out)
	assert.Equal(t, 1, strings.Count(out, "olt="), "olt must be injected exactly once")
}

func TestRewrite_FirstOfTimestampOrMultihitWins(t *testing.T) {
	out := Rewrite("https://h.example.com/p?mh=1-2-3&ts=99", testOLT)
	assert.Equal(t, "https://h.example.com/p?mh=1-2-3&olt="+testOLT+"&ts=99", out)
}

func TestRewrite_RewritesEveryConnectionComponent(t *testing.T) {
	out := Rewrite("https://h.example.com/p?cn=wifi&x=1&cn=4g", testOLT)
	assert.Equal(t, "https://h.example.com/p?cn=offline&x=1&cn=offline", out)
}

// A hit without ts or mh never receives olt. Consumers rely on that absence.
func TestRewrite_NoTimestampNoOLTQuirk(t *testing.T) {
	out := Rewrite("https://h.example.com/p?s=1&cn=wifi", testOLT)
	assert.NotContains(t, out, "olt=")
	assert.Equal(t, "https://h.example.com/p?s=1&cn=offline", out)
}

func TestRewrite_KeyMatchIsExact(t *testing.T) {
	out := Rewrite("https://h.example.com/p?tsx=1&cnx=wifi&mhz=2", testOLT)
	assert.Equal(t, "https://h.example.com/p?tsx=1&cnx=wifi&mhz=2", out)
}

func TestRewrite_MalformedIsIdentity(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing scheme", "logs.example.com/hit?ts=1"},
		{"missing host", "https:///hit?ts=1"},
		{"missing query", "https://logs.example.com/hit"},
		{"empty", ""},
		{"unparseable", "https://[::1/hit?ts=1"},
		{"control character", "https://h.example.com/p?ts=1\x7f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.in, Rewrite(tt.in, testOLT))
		})
	}
}

func TestRewrite_KeepsPortAndDropsFragment(t *testing.T) {
	out := Rewrite("http://127.0.0.1:8080/hit?ts=1#frag", testOLT)
	assert.Equal(t, "http://127.0.0.1:8080/hit?ts=1&olt="+testOLT, out)
}

func TestRewrite_Golden(t *testing.T) {
	cases := []string{
		"https://logs1.xiti.com/hit.xiti?s=552987&idclient=abc&ts=1700000000&cn=wifi&p=home",
		"https://logs1.xiti.com/hit.xiti?s=1&mh=1-2-1700000000&ts=1700000000&cn=4g",
		"https://logs1.xiti.com/hit.xiti?s=1&cn=wifi&p=home",
		"https://logs1.xiti.com/hit.xiti?&s=1&&ts=1&",
		"https://logs1.xiti.com/hit.xiti?s=1&p=caf%C3%A9%20page&ts=1",
		"http://127.0.0.1:8080/hit?ts=1&cn=x&cn=y",
		"logs1.xiti.com/hit.xiti?s=1&ts=1",
		"https://logs1.xiti.com/hit.xiti",
	}

	var b strings.Builder
	for _, in := range cases {
		fmt.Fprintf(&b, "%s\n=> %s\n\n", in, Rewrite(in, testOLT))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "rewrite_cases", []byte(b.String()))
}

func TestOriginTime(t *testing.T) {
	now := time.Unix(1718000000, 123456789)

	assert.Equal(t, "1718000000.123456", OriginTime("", now))
	assert.Equal(t, "1700000000.000001", OriginTime("1700000000.000001", now), "multihit origin time is used verbatim")
}

func TestFormatOriginTime_FixedPrecision(t *testing.T) {
	got := FormatOriginTime(time.Unix(1718000000, 0))
	require.Equal(t, "1718000000.000000", got)

	got = FormatOriginTime(time.Unix(5, 7000))
	require.Equal(t, "5.000007", got)
}
