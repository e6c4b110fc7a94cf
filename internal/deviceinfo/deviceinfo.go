// Package deviceinfo resolves platform and app metadata used to enrich
// analytics events and error reports. Platform detection parses the
// User-Agent with uasurfer; app version and build come from client-supplied
// headers. Every field degrades to empty when unknown.
package deviceinfo

import (
	"context"
	"fmt"
	"net/http"

	"github.com/avct/uasurfer"

	"github.com/exohunter/promoserve/internal/models"
)

// Info describes the reporting device and app. Empty fields mean unknown and
// are omitted from enriched payloads.
type Info struct {
	Platform   string
	OSVersion  string
	AppVersion string
	AppBuild   string
}

// Provider supplies device info for enrichment.
type Provider interface {
	Info(ctx context.Context) (Info, error)
}

// Static is a fixed Provider for contexts without a request to derive from.
type Static struct {
	Value Info
}

func (s Static) Info(context.Context) (Info, error) {
	return s.Value, nil
}

// Client request headers carrying app metadata.
const (
	HeaderAppVersion = "X-App-Version"
	HeaderAppBuild   = "X-App-Build"
	HeaderPlatform   = "X-Platform"
)

// ResolvePlatform maps a User-Agent string onto one of the target platforms.
// Anything that is not an Android or iOS device counts as web.
func ResolvePlatform(uaString string) string {
	if uaString == "" {
		return models.PlatformWeb
	}
	ua := uasurfer.Parse(uaString)
	switch ua.OS.Platform {
	case uasurfer.PlatformiPad, uasurfer.PlatformiPhone:
		return models.PlatformIOS
	}
	if ua.OS.Name == uasurfer.OSAndroid {
		return models.PlatformAndroid
	}
	return models.PlatformWeb
}

// FromRequest builds device info for one HTTP request. An explicit X-Platform
// header wins over User-Agent detection.
func FromRequest(r *http.Request) Info {
	platform := r.Header.Get(HeaderPlatform)
	if !models.ValidPlatform(platform) {
		platform = ResolvePlatform(r.UserAgent())
	}

	info := Info{
		Platform:   platform,
		AppVersion: r.Header.Get(HeaderAppVersion),
		AppBuild:   r.Header.Get(HeaderAppBuild),
	}

	if ua := r.UserAgent(); ua != "" {
		parsed := uasurfer.Parse(ua)
		v := parsed.OS.Version
		if v.Major > 0 {
			info.OSVersion = fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
		}
	}
	return info
}

// RequestProvider adapts a single request into a Provider for error-report
// enrichment.
type RequestProvider struct {
	info Info
}

// NewRequestProvider captures the device info of r.
func NewRequestProvider(r *http.Request) *RequestProvider {
	return &RequestProvider{info: FromRequest(r)}
}

func (p *RequestProvider) Info(context.Context) (Info, error) {
	return p.info, nil
}
