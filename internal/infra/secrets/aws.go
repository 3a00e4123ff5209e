package secrets

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const awsService = "secretsmanager"

// SecretsManager fetches secrets from AWS Secrets Manager. Requests are
// signed with SigV4 directly; the endpoint is overridable for localstack.
type SecretsManager struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	HTTPClient   *http.Client
	Clock        func() time.Time
}

func NewSecretsManager(region, accessKey, secretKey, sessionToken string) *SecretsManager {
	return &SecretsManager{
		Endpoint:     "https://secretsmanager." + region + ".amazonaws.com",
		Region:       region,
		AccessKey:    accessKey,
		SecretKey:    secretKey,
		SessionToken: sessionToken,
	}
}

func (s *SecretsManager) Fetch(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name is required")
	}
	body, err := s.call(ctx, "GetSecretValue", map[string]string{"SecretId": name})
	if err != nil {
		return "", err
	}
	var resp struct {
		SecretString string `json:"SecretString"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.SecretString == "" {
		return "", errors.New("secret string missing")
	}
	return resp.SecretString, nil
}

func (s *SecretsManager) call(ctx context.Context, target string, payload any) ([]byte, error) {
	if s.Endpoint == "" || s.Region == "" || s.AccessKey == "" || s.SecretKey == "" {
		return nil, errors.New("secrets manager missing configuration")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.Endpoint, "/")+"/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", awsService+"."+target)
	req.Header.Set("X-Amz-Date", s.now().UTC().Format("20060102T150405Z"))
	if s.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", s.SessionToken)
	}
	if err := s.sign(req, body); err != nil {
		return nil, err
	}

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("secrets manager %s failed: status %d", target, resp.StatusCode)
	}
	return respBody, nil
}

func (s *SecretsManager) sign(req *http.Request, payload []byte) error {
	host := req.URL.Host
	if host == "" {
		return errors.New("endpoint host missing")
	}
	req.Header.Set("Host", host)
	amzDate := req.Header.Get("X-Amz-Date")
	date := amzDate[:8]

	canonicalHeaders, signedHeaders := canonicalizeHeaders(req.Header)
	canonicalRequest := strings.Join([]string{
		req.Method,
		"/",
		"",
		canonicalHeaders,
		signedHeaders,
		sha256Hex(payload),
	}, "\n")

	scope := date + "/" + s.Region + "/" + awsService + "/aws4_request"
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	key := hmacSHA256([]byte("AWS4"+s.SecretKey), []byte(date))
	key = hmacSHA256(key, []byte(s.Region))
	key = hmacSHA256(key, []byte(awsService))
	key = hmacSHA256(key, []byte("aws4_request"))
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		s.AccessKey, scope, signedHeaders, signature))
	return nil
}

func canonicalizeHeaders(headers http.Header) (string, string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)
	var canonical strings.Builder
	for _, key := range keys {
		values := headers.Values(key)
		for i := range values {
			values[i] = strings.TrimSpace(values[i])
		}
		canonical.WriteString(key + ":" + strings.Join(values, ",") + "\n")
	}
	return canonical.String(), strings.Join(keys, ";")
}

func (s *SecretsManager) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (s *SecretsManager) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var _ Source = (*SecretsManager)(nil)
