package tui

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/sparkbox/go-kiosk/internal/imgretry"
	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
	"github.com/sparkbox/go-kiosk/pkg/logger"
)

// ImageChecker 终端无法显示图片, 只检查图片是否可达, 失败按重试策略退避。
type ImageChecker struct {
	policy imgretry.Policy
	base   *url.URL
	client *http.Client
}

// NewImageChecker 创建检查器。相对地址按 baseURL 解析。
func NewImageChecker(policy imgretry.Policy, baseURL string, timeout time.Duration) (*ImageChecker, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, pkgerr.WithCode(pkgerr.ErrInvalidInput, "tui.NewImageChecker", pkgerr.CodeConfig, "invalid base url "+baseURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ImageChecker{policy: policy, base: base, client: &http.Client{Timeout: timeout}}, nil
}

// Check 检查 src, 返回最终地址与是否换成了占位图。
func (c *ImageChecker) Check(ctx context.Context, id, original, src string) (string, bool, error) {
	a := &imgretry.Attempt{ID: id, OriginalURL: original}
	return c.policy.Load(ctx, a, src, c.head)
}

func (c *ImageChecker) head(ctx context.Context, src string) error {
	const op = "ImageChecker.head"
	ref, err := url.Parse(src)
	if err != nil {
		return pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeTransport, "invalid image url "+src)
	}
	target := c.base.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return pkgerr.Wrap(err, op, "build request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return pkgerr.WithCode(pkgerr.ErrTransport, op, pkgerr.CodeTransport, err.Error())
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		logger.Debug("tui: image check failed", logger.FieldURL, target.String(), logger.FieldStatus, resp.StatusCode)
		return pkgerr.WithCode(pkgerr.ErrTransport, op, pkgerr.CodeTransport, resp.Status)
	}
	return nil
}
