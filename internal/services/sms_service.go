package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const smsTokenRefreshLeeway = 30 * time.Second

// SMSService sends one-time codes through the SMS gateway. Dispatch is
// fire-and-forget from the caller's point of view; delivery failures are
// logged only.
type SMSService struct {
	baseURL  string
	username string
	password string
	enabled  bool

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time

	client *http.Client
}

func NewSMSService(baseURL, username, password string, enabled bool) *SMSService {
	return &SMSService{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		enabled:  enabled,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether outbound SMS is configured.
func (s *SMSService) Enabled() bool {
	return s.enabled
}

// SendCode delivers a verification code to the given phone.
func (s *SMSService) SendCode(phone, code string) error {
	if !s.enabled {
		log.Printf("[SMS] disabled, code for %s not sent", phone)
		return nil
	}

	message := fmt.Sprintf("Tasdiqlash kodi: %s", code)
	return s.send(phone, message)
}

func (s *SMSService) send(phone, message string) error {
	token, err := s.getToken(false)
	if err != nil {
		return err
	}

	status, err := s.postMessage(token, phone, message)
	if err != nil {
		return err
	}

	// Retry once with a fresh token on auth failure.
	if status == http.StatusUnauthorized {
		token, err = s.getToken(true)
		if err != nil {
			return err
		}
		status, err = s.postMessage(token, phone, message)
		if err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		return fmt.Errorf("sms send failed: status %d", status)
	}
	return nil
}

func (s *SMSService) postMessage(token, phone, message string) (int, error) {
	payload, _ := json.Marshal(map[string]string{
		"mobile_phone": phone,
		"message":      message,
	})

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/message/sms/send", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("sms request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sms request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

type smsAuthResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *SMSService) getToken(force bool) (string, error) {
	if !force {
		s.mu.RLock()
		if s.token != "" && time.Now().Before(s.tokenExpiry) {
			token := s.token
			s.mu.RUnlock()
			return token, nil
		}
		s.mu.RUnlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring the write lock.
	if !force && s.token != "" && time.Now().Before(s.tokenExpiry) {
		return s.token, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"email":    s.username,
		"password": s.password,
	})

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("sms auth request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms auth request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms auth failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var authResp smsAuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return "", fmt.Errorf("sms auth unmarshal: %w", err)
	}

	if authResp.Token == "" {
		return "", errors.New("sms auth: empty token")
	}

	s.token = authResp.Token
	if authResp.ExpiresIn > 0 {
		s.tokenExpiry = time.Now().Add(time.Duration(authResp.ExpiresIn)*time.Second - smsTokenRefreshLeeway)
	} else {
		s.tokenExpiry = time.Now().Add(55 * time.Minute)
	}

	return s.token, nil
}
