package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// writeJSON serializa v con el status dado. Si falla, responde 500 en texto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor traduce los errores del engine a códigos HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMarketClosed),
		errors.Is(err, domain.ErrSettlementInProgress),
		errors.Is(err, domain.ErrWindowExpired),
		errors.Is(err, domain.ErrMarketNotResolvable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSlippageExceeded),
		errors.Is(err, domain.ErrDepositTooLow),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientReserve),
		errors.Is(err, domain.ErrNotEligible):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// decodeBody lee un JSON acotado a 1 MiB. Campos desconocidos son error.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", domain.ErrInvalidConfig)
		}
		return fmt.Errorf("%w: decode body: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

// normalizeAccount recorta espacios y, si la cuenta es una dirección hex,
// la devuelve en formato checksum para que "0xabc…" y "0xABC…" sean la misma.
func normalizeAccount(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty account", domain.ErrInvalidAccount)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if !common.IsHexAddress(s) {
			return "", fmt.Errorf("%w: malformed address %q", domain.ErrInvalidAccount, raw)
		}
		return common.HexToAddress(s).Hex(), nil
	}
	return s, nil
}

func parseDecimal(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: %s is required", domain.ErrInvalidAmount, name)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", domain.ErrInvalidAmount, name, err)
	}
	return d, nil
}

// parseLimit: por defecto 50, máximo 500.
func parseLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, 500)
}
