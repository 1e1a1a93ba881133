// Package dest uploads encoded activity files to Garmin Connect.
package dest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Client uploads TCX files to the Garmin upload endpoint.
type Client struct {
	uploadURL  string
	email      string
	password   string
	httpClient *http.Client
}

// NewClient constructs a Client with sane defaults.
func NewClient(uploadURL, email, password string) *Client {
	return &Client{
		uploadURL: uploadURL,
		email:     email,
		password:  password,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Upload sends the file as a multipart form. A non-2xx response is an error;
// nothing is retried here, the caller decides what a failed upload means.
func (c *Client) Upload(ctx context.Context, content []byte, filename, activityType, title string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := writer.WriteField("activityType", activityType); err != nil {
		return err
	}
	if err := writer.WriteField("title", title); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.SetBasicAuth(c.email, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("garmin upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("garmin upload rejected (status=%d): %s", resp.StatusCode, data)
	}
	return nil
}
