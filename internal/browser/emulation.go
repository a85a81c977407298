// File: internal/browser/emulation.go
package browser

import (
	"context"
	"fmt"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/config"
)

// Persona is the consistent desktop profile every session presents.
type Persona struct {
	UserAgent string
	Locale    string
	Timezone  string
	Width     int64
	Height    int64
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// NewPersona builds the session profile from configuration.
func NewPersona(cfg config.BrowserConfig) Persona {
	return Persona{
		UserAgent: cfg.UserAgent,
		Locale:    cfg.Locale,
		Timezone:  cfg.Timezone,
		Width:     int64(cfg.Viewport["width"]),
		Height:    int64(cfg.Viewport["height"]),
		Latitude:  cfg.Geolocation.Latitude,
		Longitude: cfg.Geolocation.Longitude,
		Accuracy:  cfg.Geolocation.Accuracy,
	}
}

// ApplyPersona sets viewport, user agent, locale, timezone and location on
// the current tab and grants the geolocation permission.
func ApplyPersona(p Persona, logger *zap.Logger) chromedp.Action {
	l := logger.Named("emulation")
	return chromedp.Tasks{
		network.Enable(),
		emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1, false),
		setUserAgent(p),
		setEnvironment(p, l),
		grantGeolocation(),
		page.SetWebLifecycleState(page.SetWebLifecycleStateStateActive),
		chromedp.ActionFunc(func(ctx context.Context) error {
			l.Debug("Persona applied", zap.String("user_agent", p.UserAgent), zap.Int64("width", p.Width), zap.Int64("height", p.Height))
			return nil
		}),
	}
}

func setUserAgent(p Persona) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.UserAgent == "" {
			return nil
		}
		override := emulation.SetUserAgentOverride(p.UserAgent)
		if p.Locale != "" {
			override = override.WithAcceptLanguage(p.Locale)
		}
		if err := override.Do(ctx); err != nil {
			return fmt.Errorf("emulation: failed to set user agent: %w", err)
		}
		return nil
	})
}

// setEnvironment applies locale, timezone and geolocation. Locale and
// timezone failures are logged, not returned.
func setEnvironment(p Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(p.Locale).Do(ctx); err != nil {
				logger.Warn("Failed to set locale override", zap.String("locale", p.Locale), zap.Error(err))
			}
		}
		if p.Timezone != "" {
			if err := emulation.SetTimezoneOverride(p.Timezone).Do(ctx); err != nil {
				logger.Warn("Failed to set timezone override", zap.String("timezone", p.Timezone), zap.Error(err))
			}
		}
		err := emulation.SetGeolocationOverride().
			WithLatitude(p.Latitude).
			WithLongitude(p.Longitude).
			WithAccuracy(p.Accuracy).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("emulation: failed to set geolocation: %w", err)
		}
		return nil
	})
}

// grantGeolocation runs against the browser target, not the tab.
func grantGeolocation() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		if c == nil || c.Browser == nil {
			return fmt.Errorf("emulation: no browser attached to context")
		}
		bctx := cdp.WithExecutor(ctx, c.Browser)
		if err := cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{cdpbrowser.PermissionTypeGeolocation}).Do(bctx); err != nil {
			return fmt.Errorf("emulation: failed to grant geolocation permission: %w", err)
		}
		return nil
	})
}
