package fileops

import "strings"

// TranslatePath renders a slash-separated destination path for the target platform.
// On windows, separators become backslashes and a path rooted at a single separator
// (the shared mount, /allen/...) becomes a UNC path (\\allen\...). Every other
// platform gets the path unchanged.
func TranslatePath(path, platform string) string {
	if platform != "windows" {
		return path
	}

	translated := strings.ReplaceAll(path, "/", `\`)
	if strings.HasPrefix(translated, `\`) && !strings.HasPrefix(translated, `\\`) {
		translated = `\` + translated
	}

	return translated
}
