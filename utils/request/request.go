package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/pkg/errors"
)

// Request sends param as the body and decodes a JSON response into resp.
// headKvs are header key/value pairs.
func Request(ctx context.Context, method, url string, param string, resp interface{}, headKvs ...string) error {
	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(param))
	if err != nil {
		return err
	}
	if len(headKvs)%2 != 0 {
		return errors.New("header be pair")
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i < len(headKvs); i += 2 {
		req.Header.Set(headKvs[i], headKvs[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status %d: %s", res.StatusCode, string(body))
	}
	if resp == nil {
		return nil
	}
	return json.Unmarshal(body, resp)
}
