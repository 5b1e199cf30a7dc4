package qzlogin

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// PasswordEncoder turns the plain password into the wire format the login
// endpoint expects, given the salt and verify-code of the current session.
type PasswordEncoder interface {
	Encode(salt, verifyCode string) (string, error)
}

// portal RSA public key (1024 bit, e=3), fixed upstream.
const rsaModulusHex = "F20CE00BAE5361F8FA3AE9CEFA495362FF7DA1BA628F64A347F0A8C012BF0B254A30CD92ABFFE7A6EE0DC424CB6166F8819EFA5BCCB20EDFB4AD02E412CCF579B1CA711D55B8B0B3AEB60153D5E0693A2A86F3167D7847A0CB8B00004716A9095D9BADC977CBB804DBDCBA6029A9710869A453F27DFDDF83C016D928B3CBF4C7"

var rsaPublicKey = func() *rsa.PublicKey {
	n, ok := new(big.Int).SetString(rsaModulusHex, 16)
	if !ok {
		panic("qzlogin: bad builtin rsa modulus")
	}
	return &rsa.PublicKey{N: n, E: 3}
}()

const teaDelta = 0x9E3779B9

// wire base64 alphabet: '+' -> '*', '/' -> '-', '=' -> '_'.
var wireB64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789*-")

// TeaEncoder implements the portal's TEA+RSA password cipher.
type TeaEncoder struct {
	passwd string
}

// NewTeaEncoder creates an encoder for the given plain password.
func NewTeaEncoder(passwd string) *TeaEncoder {
	return &TeaEncoder{passwd: passwd}
}

// Encode produces the `p` parameter of the login submission.
func (t *TeaEncoder) Encode(salt, verifyCode string) (string, error) {
	if t.passwd == "" {
		return "", fmt.Errorf("password is empty")
	}

	pwdHash := md5.Sum([]byte(t.passwd))

	keyInput := append(pwdHash[:], []byte(salt)...)
	keyHash := md5.Sum(keyInput)
	teaKey := keyHash[:]

	rsaData, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPublicKey, pwdHash[:])
	if err != nil {
		return "", fmt.Errorf("rsa encrypt: %w", err)
	}
	rsaHex := hex.EncodeToString(rsaData)

	vcHex := hex.EncodeToString([]byte(strings.ToUpper(verifyCode)))

	// framed hex string: rsa_len + rsa + salt + vc_len + vc
	framed := fmt.Sprintf("%04x%s%s%04x%s",
		len(rsaHex)/2, rsaHex, hex.EncodeToString([]byte(salt)), len(vcHex)/2, vcHex)

	plain, err := hex.DecodeString(framed)
	if err != nil {
		return "", fmt.Errorf("frame password payload: %w", err)
	}

	enc, err := teaEncrypt(plain, teaKey)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(wireB64.EncodeToString(enc), "=", "_"), nil
}

// teaEncrypt pads v to 8-byte blocks with random fill, then applies 16-round
// TEA with the chained-block feedback scheme the portal's js uses.
func teaEncrypt(v, key []byte) ([]byte, error) {
	fillN := (8 - (len(v) + 2)) % 8
	if fillN < 0 {
		fillN += 8
	}
	fillN += 2
	fills := make([]byte, fillN)
	if _, err := rand.Read(fills); err != nil {
		return nil, fmt.Errorf("random fill: %w", err)
	}

	buf := make([]byte, 0, 1+fillN+len(v)+7)
	buf = append(buf, byte(fillN-2)|0xF8)
	buf = append(buf, fills...)
	buf = append(buf, v...)
	buf = append(buf, make([]byte, 7)...)

	var k [4]uint32
	for i := range k {
		k[i] = binary.BigEndian.Uint32(key[i*4:])
	}

	out := make([]byte, 0, len(buf))
	var tr, to [8]byte
	for i := 0; i < len(buf); i += 8 {
		var o [8]byte
		xorBlock(&o, buf[i:i+8], tr[:])
		enc := teaBlock(o, k)
		xorBlock(&tr, enc[:], to[:])
		to = o
		out = append(out, tr[:]...)
	}
	return out, nil
}

func xorBlock(dst *[8]byte, a, b []byte) {
	for i := 0; i < 8; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

func teaBlock(v [8]byte, k [4]uint32) [8]byte {
	y := binary.BigEndian.Uint32(v[:4])
	z := binary.BigEndian.Uint32(v[4:])
	var s uint32
	for i := 0; i < 16; i++ {
		s += teaDelta
		y += ((z << 4) + k[0]) ^ (z + s) ^ ((z >> 5) + k[1])
		z += ((y << 4) + k[2]) ^ (y + s) ^ ((y >> 5) + k[3])
	}
	var r [8]byte
	binary.BigEndian.PutUint32(r[:4], y)
	binary.BigEndian.PutUint32(r[4:], z)
	return r
}
