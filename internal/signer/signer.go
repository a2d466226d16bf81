// Package signer calcula e verifica as assinaturas HMAC-SHA256 trocadas com o operador.
//
// A assinatura é sempre calculada sobre a forma canônica do JSON: chaves de objeto
// ordenadas, sem espaços, números normalizados e sem escape de HTML.
// Dois corpos semanticamente iguais produzem a mesma assinatura.
//
// Números são lidos como racionais exatos: inteiros saem só com os dígitos
// (100, 1e2 e 100.0 viram 100) e os demais como decimal com o mínimo de casas
// (1.50 e 15e-1 viram 1.5). Nenhum valor passa por float64.
package signer

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	HeaderSignature         = "X-Signature"
	HeaderSeamlessSignature = "X-Hmac-Signature"
	HeaderAPIKey            = "X-Api-Key"
)

var ErrInvalidBody = errors.New("invalid_body")

// expoentes maiores que isso não aparecem em valores monetários e custariam
// memória para expandir
const maxExponent = 512

type Signer struct {
	secret []byte
}

func New(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Canonicalize reescreve um documento JSON na forma canônica
func Canonicalize(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidBody)
	}
	v, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return encode(v)
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
	case []any:
		for i, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
	case json.Number:
		return canonicalNumber(t)
	}
	return v, nil
}

func canonicalNumber(n json.Number) (json.Number, error) {
	text := n.String()
	if i := strings.IndexAny(text, "eE"); i >= 0 {
		exp, ok := new(big.Int).SetString(strings.TrimPrefix(text[i+1:], "+"), 10)
		if !ok || exp.CmpAbs(big.NewInt(maxExponent)) > 0 {
			return "", fmt.Errorf("%w: number %s out of range", ErrInvalidBody, text)
		}
	}
	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return "", fmt.Errorf("%w: number %s", ErrInvalidBody, text)
	}
	if r.IsInt() {
		return json.Number(r.Num().String()), nil
	}
	return json.Number(r.FloatString(decimalPlaces(r.Denom()))), nil
}

// decimalPlaces é o mínimo de casas para escrever 1/d exatamente. Todo número
// JSON é decimal, então d só tem fatores 2 e 5.
func decimalPlaces(d *big.Int) int {
	d = new(big.Int).Set(d)
	twos := int(d.TrailingZeroBits())
	d.Rsh(d, uint(twos))
	fives := 0
	five, rem := big.NewInt(5), new(big.Int)
	for d.Cmp(big.NewInt(1)) > 0 {
		q, m := new(big.Int).QuoRem(d, five, rem)
		if m.Sign() != 0 {
			break
		}
		d = q
		fives++
	}
	return max(twos, fives)
}

// encoding/json já ordena chaves de map; só falta desligar o escape de HTML
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign devolve o HMAC em hex do corpo canonicalizado
func (s *Signer) Sign(body []byte) (string, error) {
	canon, err := Canonicalize(body)
	if err != nil {
		return "", err
	}
	return s.mac(canon), nil
}

// SignValue serializa v e devolve os bytes canônicos que devem ir no corpo da requisição
func (s *Signer) SignValue(v any) ([]byte, string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	canon, err := Canonicalize(raw)
	if err != nil {
		return nil, "", err
	}
	return canon, s.mac(canon), nil
}

// Verify compara em tempo constante. Assinatura ausente ou corpo inválido é falso.
func (s *Signer) Verify(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	canon, err := Canonicalize(body)
	if err != nil {
		return false
	}
	m := hmac.New(sha256.New, s.secret)
	m.Write(canon)
	return hmac.Equal(got, m.Sum(nil))
}

func (s *Signer) mac(canon []byte) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write(canon)
	return hex.EncodeToString(m.Sum(nil))
}
