package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

type apiError struct {
	Status int
	Code   string `json:"code"`
	Msg    string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Msg)
}

// client is a thin JSON client for the rewards API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, hc *http.Client) *client {
	return &client{base: base, http: hc}
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

func (c *client) signup(ctx context.Context) (credentials, error) {
	var creds credentials
	err := c.do(ctx, http.MethodPost, "/signup", "", nil, &creds)
	return creds, err
}

func (c *client) validate(ctx context.Context, creds credentials, barcode string, image []byte) (validateResponse, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("barcode_id", barcode)
	_ = mw.WriteField("pubkey", creds.PublicKey)
	_ = mw.WriteField("password", creds.Password)
	fw, err := mw.CreateFormFile("image", "proof.jpg")
	if err != nil {
		return validateResponse{}, err
	}
	if _, err := fw.Write(image); err != nil {
		return validateResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return validateResponse{}, err
	}

	var out validateResponse
	err = c.do(ctx, http.MethodPost, "/api/validate", mw.FormDataContentType(), body, &out)
	return out, err
}

func (c *client) account(ctx context.Context, pubkey string) (account, error) {
	var out account
	err := c.do(ctx, http.MethodGet, "/wallet/"+pubkey, "", nil, &out)
	return out, err
}

func (c *client) distribute(ctx context.Context, pool int64) (distributionEvent, error) {
	path := "/distribute"
	if pool > 0 {
		path += "?pool=" + strconv.FormatInt(pool, 10)
	}
	var out distributionEvent
	err := c.do(ctx, http.MethodPost, path, "", nil, &out)
	return out, err
}
