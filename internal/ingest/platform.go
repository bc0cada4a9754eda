package ingest

import (
	"net/url"
	"path"
	"strings"

	"github.com/sooksun/teachermon-sub002/pkg/models"
)

var platformHosts = map[string]models.Platform{
	"youtube.com":      models.PlatformYouTube,
	"youtu.be":         models.PlatformYouTube,
	"vimeo.com":        models.PlatformVimeo,
	"drive.google.com": models.PlatformGoogleDrive,
	"docs.google.com":  models.PlatformGoogleDrive,
	"facebook.com":     models.PlatformFacebook,
	"fb.watch":         models.PlatformFacebook,
}

var mediaExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".webm": true,
	".mkv": true, ".avi": true, ".mpg": true, ".mpeg": true,
}

// InferPlatform guesses the hosting platform from a link. Subdomains such as
// www., m. or player. match their parent host. A link whose path ends in a
// video file extension is DIRECT.
func InferPlatform(rawURL string) models.Platform {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return models.PlatformOther
	}
	host := strings.ToLower(u.Hostname())
	for {
		if p, ok := platformHosts[host]; ok {
			return p
		}
		_, parent, found := strings.Cut(host, ".")
		if !found || !strings.Contains(parent, ".") {
			break
		}
		host = parent
	}
	if mediaExtensions[strings.ToLower(path.Ext(u.Path))] {
		return models.PlatformDirect
	}
	return models.PlatformOther
}
