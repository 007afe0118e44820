package exchange

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const EndpointTryOn = "/Response/image_generate"

// Image is an uploaded picture. Name and MIME are optional.
type Image struct {
	Name string
	MIME string
	Data []byte
}

type TryOnClient struct {
	*client
}

func NewTryOnClient(baseURL string, opts ...Option) *TryOnClient {
	return &TryOnClient{client: newClient(baseURL, opts...)}
}

type tryOnResponse struct {
	Image string `json:"image"`
}

// Submit uploads the person and garment images and returns the generated
// JPEG.
func (c *TryOnClient) Submit(ctx context.Context, person, cloth Image) ([]byte, error) {
	if len(person.Data) == 0 || len(cloth.Data) == 0 {
		return nil, fmt.Errorf("both person and cloth images are required")
	}
	if !c.acquire() {
		return nil, ErrRequestInFlight
	}
	defer c.release()

	ctx, span := tracer.Start(ctx, "submit try-on")
	defer span.End()
	span.SetAttributes(
		attribute.Int("tryon.person_bytes", len(person.Data)),
		attribute.Int("tryon.cloth_bytes", len(cloth.Data)),
	)

	image, err := c.submit(ctx, person, cloth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "try-on exchange failed", "error", err)
		return nil, err
	}
	return image, nil
}

func (c *TryOnClient) submit(ctx context.Context, person, cloth Image) ([]byte, error) {
	fail := func(status int, err error) error {
		return &RequestError{Endpoint: EndpointTryOn, StatusCode: status, Err: err}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, field := range []struct {
		name  string
		image Image
	}{
		{name: "person_image", image: person},
		{name: "cloth_image", image: cloth},
	} {
		if err := writeImagePart(writer, field.name, field.image); err != nil {
			return nil, fail(0, fmt.Errorf("error building multipart body: %w", err))
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fail(0, fmt.Errorf("error building multipart body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EndpointTryOn, &body)
	if err != nil {
		return nil, fail(0, fmt.Errorf("error creating HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(0, fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fail(resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(errorBody))))
	}

	var parsed tryOnResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("error unmarshalling response: %w", err))
	}
	if parsed.Image == "" {
		return nil, fail(resp.StatusCode, fmt.Errorf("response carries no image"))
	}

	image, err := base64.StdEncoding.DecodeString(parsed.Image)
	if err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("error decoding image: %w", err))
	}
	return image, nil
}

func writeImagePart(writer *multipart.Writer, field string, image Image) error {
	name := image.Name
	if name == "" {
		name = field
	}
	mimeType := image.MIME
	if mimeType == "" {
		mimeType = http.DetectContentType(image.Data)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(image.Data)
	return err
}
