// Package payu implements the PayU keyed-digest scheme used to
// authenticate request and response field tuples on gateway round-trips.
package payu

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
)

// Request carries the fields hashed when initiating a payment.
// UDF1-5 are optional merchant-defined fields; PayU reserves five more
// positions after them which are always empty.
type Request struct {
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	UDF1        string
	UDF2        string
	UDF3        string
	UDF4        string
	UDF5        string
}

// Response carries the fields PayU posts back to the success/failure URLs.
type Response struct {
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	Status      string
	UDF1        string
	UDF2        string
	UDF3        string
	UDF4        string
	UDF5        string
	Hash        string
}

// RequestHash computes the forward hash:
// sha512(key|txnid|amount|productinfo|firstname|email|udf1..udf5||||||salt).
func RequestHash(key, salt string, r Request) string {
	s := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s||||||%s",
		key, r.TxnID, r.Amount, r.ProductInfo, r.FirstName, r.Email,
		r.UDF1, r.UDF2, r.UDF3, r.UDF4, r.UDF5, salt)
	return digest(s)
}

// ResponseHash computes the reverse hash PayU sends on redirects:
// sha512(salt|status||||||udf5..udf1|email|firstname|productinfo|amount|txnid|key).
// Salt-first, field order reversed relative to RequestHash with status
// inserted after the salt.
func ResponseHash(key, salt string, r Response) string {
	s := fmt.Sprintf("%s|%s||||||%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		salt, r.Status,
		r.UDF5, r.UDF4, r.UDF3, r.UDF2, r.UDF1,
		r.Email, r.FirstName, r.ProductInfo, r.Amount, r.TxnID, key)
	return digest(s)
}

// VerifyResponse reports whether the hash on a gateway response matches
// the reverse hash computed from its fields. It never fails with an
// error; a mismatch simply returns false and the transaction must not be
// trusted.
func VerifyResponse(key, salt string, r Response) bool {
	if r.Hash == "" {
		return false
	}
	return strings.EqualFold(ResponseHash(key, salt, r), r.Hash)
}

// SanitizeField strips the pipe delimiter from user-supplied values so a
// crafted name or product can never shift hash field positions.
func SanitizeField(v string) string {
	return strings.TrimSpace(strings.ReplaceAll(v, "|", " "))
}

func digest(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}
