package tg

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	reTxHash  = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
	reEthAddr = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{40}$`)

	ErrInvalidConfidence = errors.New("invalid confidence")
)

func IsTxHash(s string) bool {
	s = strings.TrimSpace(s)
	return reTxHash.MatchString(s)
}

func IsEthAddress(s string) bool {
	s = strings.TrimSpace(s)
	return reEthAddr.MatchString(s)
}

// NormalizeTxHash приводит хэш к виду, в котором он лежит в трекере (0x + lower hex).
func NormalizeTxHash(s string) string {
	return common.HexToHash(strings.TrimSpace(s)).Hex()
}

// ParseConfidence парсит порог уверенности: "0.8", "0,8" или "80%".
// Допустимо (0, 1].
func ParseConfidence(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", ".")

	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidConfidence
	}
	if percent {
		v /= 100
	}
	if v <= 0 || v > 1 {
		return 0, ErrInvalidConfidence
	}
	return v, nil
}
