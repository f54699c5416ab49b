package webfetch

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const renderTimeout = 20 * time.Second

// renderWithBrowser loads rawURL in a headless Chromium instance and
// returns the fully rendered DOM's HTML, for pages whose content only
// appears after client-side JavaScript runs (a plain net/http GET would
// just return the empty SPA shell). Used by FetchTool when the caller
// asks for render=true.
func renderWithBrowser(rawURL string) (string, error) {
	u, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Timeout(renderTimeout).Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return "", fmt.Errorf("load page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for load: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read rendered HTML: %w", err)
	}
	return html, nil
}
