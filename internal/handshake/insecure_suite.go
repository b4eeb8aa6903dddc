package handshake

import (
	"crypto/sha256"
	"fmt"

	"github.com/whitekyo/quicker/internal/protocol"
)

// insecureAEAD implements the Sealer/Opener facade with a
// trivial, non-secret XOR keystream derived from a per-level key. This is
// NOT a real AEAD: it exists purely so tests and the example binaries in
// cmd/ can drive the transport core end-to-end without depending on a
// real TLS 1.3 stack, which is an external collaborator per the design
// (§1). Production deployments must supply a real CryptoSetup.
type insecureAEAD struct {
	key [32]byte
}

const insecureOverhead = 16

func newInsecureAEAD(level protocol.EncryptionLevel, label string) *insecureAEAD {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|level=%d", label, level)))
	return &insecureAEAD{key: h}
}

func (a *insecureAEAD) keystream(pn protocol.PacketNumber, n int) []byte {
	out := make([]byte, n)
	seed := sha256.Sum256(append(a.key[:], byte(pn), byte(pn>>8), byte(pn>>16), byte(pn>>24)))
	for i := range out {
		out[i] = seed[i%len(seed)]
	}
	return out
}

func (a *insecureAEAD) Seal(dst, plaintext []byte, pn protocol.PacketNumber, header []byte) []byte {
	ks := a.keystream(pn, len(plaintext))
	out := dst
	for i, b := range plaintext {
		out = append(out, b^ks[i])
	}
	tag := sha256.Sum256(append(append(a.key[:], header...), plaintext...))
	out = append(out, tag[:insecureOverhead]...)
	return out
}

func (a *insecureAEAD) Overhead() int { return insecureOverhead }

func (a *insecureAEAD) Open(dst, ciphertext []byte, pn protocol.PacketNumber, header []byte) ([]byte, error) {
	if len(ciphertext) < insecureOverhead {
		return nil, fmt.Errorf("handshake: ciphertext too short")
	}
	body := ciphertext[:len(ciphertext)-insecureOverhead]
	tag := ciphertext[len(ciphertext)-insecureOverhead:]
	ks := a.keystream(pn, len(body))
	plaintext := make([]byte, len(body))
	for i, b := range body {
		plaintext[i] = b ^ ks[i]
	}
	want := sha256.Sum256(append(append(a.key[:], header...), plaintext...))
	for i := range tag {
		if tag[i] != want[i] {
			return nil, fmt.Errorf("handshake: AEAD authentication failed")
		}
	}
	return append(dst, plaintext...), nil
}
