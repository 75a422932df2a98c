package parser

import (
	"regexp"

	"github.com/modoterra/logcap/pkg/core"
)

// MM-DD HH:MM:SS.mmm PID TID LEVEL COMPONENT: CONTENT
var logcatPattern = regexp.MustCompile(
	`^(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])\s+([01]\d|2[0-4]):([0-5]\d):([0-5]\d)\.(\d{3})\s+(\d+)\s+(\d+)\s+([VDIWEFS])\s+(.+?)\s*:\s+(.*)`,
)

// Android parses `adb logcat` threadtime output.
type Android struct{}

func (Android) Platform() core.Platform { return core.PlatformAndroid }

func (Android) Header() []string { return core.AndroidHeader }

func (Android) Parse(line string) (core.Record, bool) {
	m := logcatPattern.FindStringSubmatch(trimEOL(line))
	if m == nil {
		return nil, false
	}
	return core.AndroidRecord{
		Month:     m[1],
		Day:       m[2],
		Hour:      m[3],
		Min:       m[4],
		Sec:       m[5],
		Milsec:    m[6],
		PID:       m[7],
		TID:       m[8],
		Level:     m[9],
		Component: m[10],
		Content:   m[11],
	}, true
}
