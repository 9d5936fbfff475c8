package cli

import (
	"fmt"
	"strings"
)

var bannerLines = []string{
	`             _   _                 _                              `,
	`  __ _ _ __ | |_| | ___   __ _  __| |  ___ _   _ _ __   ___      `,
	` / _' | '_ \| __| |/ _ \ / _' |/ _' | / __| | | | '_ \ / __|     `,
	`| (_| | |_) | |_| | (_) | (_| | (_| | \__ \ |_| | | | | (__      `,
	` \__, | .__/ \__|_|\___/ \__,_|\__,_| |___/\__, |_| |_|\___|     `,
	` |___/|_|                                  |___/                 `,
}

// Banner renders the startup banner with a version line.
func Banner(version string) string {
	var b strings.Builder
	for i, line := range bannerLines {
		progress := float64(i) / float64(len(bannerLines)-1)
		b.WriteString(Gradient(line, BrandBlue, BrandPurple, progress))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%s %s\n", Arrow(), Style("version "+version, Bold))
	return b.String()
}
