package crypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const PolicyURIBasic256Sha256 = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"

const (
	basic256SigningKeyLen    = 32 // HMAC-SHA256 key
	basic256EncryptionKeyLen = 32 // AES-256
	basic256IVLen            = 16
	basic256SignatureSize     = sha256.Size
	basic256BlockSize         = aes.BlockSize
)

var (
	ErrNoLocalKey   = errors.New("crypto: local private key not configured")
	ErrNoPeerCert   = errors.New("crypto: peer certificate not configured")
	ErrBadSignature = errors.New("crypto: signature verification failed")
	ErrShortCipher  = errors.New("crypto: ciphertext shorter than one block")
)

// Basic256Sha256Capability implements Capability for the
// Basic256Sha256 security policy: RSA-OAEP/PSS asymmetric operations
// over the handshake certificates, AES-256-CBC symmetric encryption and
// HMAC-SHA256 signing, with channel keys derived via HKDF-SHA256 from
// the exchanged nonces — grounded on the same HKDF-over-x/crypto
// approach used to derive Matter's session keys.
type Basic256Sha256Capability struct {
	localKey  *rsa.PrivateKey
	peerCert  *x509.Certificate
	keys      ChannelKeySet
	haveKeys  bool
}

// NewBasic256Sha256Capability binds a capability to the local private
// key and the peer's certificate for one channel's asymmetric OPN
// operations. Symmetric keys are installed later via DeriveChannelKeys.
func NewBasic256Sha256Capability(localKey *rsa.PrivateKey, peerCert *x509.Certificate) *Basic256Sha256Capability {
	return &Basic256Sha256Capability{localKey: localKey, peerCert: peerCert}
}

func (c *Basic256Sha256Capability) PolicyURI() string  { return PolicyURIBasic256Sha256 }
func (c *Basic256Sha256Capability) SignatureSize() int { return basic256SignatureSize }
func (c *Basic256Sha256Capability) BlockSize() int     { return basic256BlockSize }

func (c *Basic256Sha256Capability) directionKeys(dir Direction) DerivedKeys {
	if dir == DirectionClientToServer {
		return c.keys.ClientToServer
	}
	return c.keys.ServerToClient
}

func (c *Basic256Sha256Capability) Sign(dir Direction, data []byte) ([]byte, error) {
	k := c.directionKeys(dir)
	if len(k.SigningKey) == 0 {
		return nil, ErrInvalidKeyState
	}
	mac := hmac.New(sha256.New, k.SigningKey)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (c *Basic256Sha256Capability) Verify(dir Direction, data, signature []byte) error {
	expected, err := c.Sign(dir, data)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, signature) {
		return ErrBadSignature
	}
	return nil
}

func (c *Basic256Sha256Capability) Encrypt(dir Direction, plaintext []byte) ([]byte, error) {
	k := c.directionKeys(dir)
	if len(k.EncryptionKey) == 0 {
		return nil, ErrInvalidKeyState
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, errors.New("crypto: plaintext not block-aligned")
	}
	block, err := aes.NewCipher(k.EncryptionKey)
	if err != nil {
		return nil, err
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, k.IV).CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}

func (c *Basic256Sha256Capability) Decrypt(dir Direction, ciphertext []byte) ([]byte, error) {
	k := c.directionKeys(dir)
	if len(k.EncryptionKey) == 0 {
		return nil, ErrInvalidKeyState
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrShortCipher
	}
	block, err := aes.NewCipher(k.EncryptionKey)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, k.IV).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

func (c *Basic256Sha256Capability) AsymmetricEncrypt(plaintext []byte) ([]byte, error) {
	if c.peerCert == nil {
		return nil, ErrNoPeerCert
	}
	pub, ok := c.peerCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("crypto: peer certificate is not RSA")
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
}

func (c *Basic256Sha256Capability) AsymmetricDecrypt(ciphertext []byte) ([]byte, error) {
	if c.localKey == nil {
		return nil, ErrNoLocalKey
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, c.localKey, ciphertext, nil)
}

func (c *Basic256Sha256Capability) AsymmetricSign(data []byte) ([]byte, error) {
	if c.localKey == nil {
		return nil, ErrNoLocalKey
	}
	digest := sha256.Sum256(data)
	return rsa.SignPSS(rand.Reader, c.localKey, crypto.SHA256, digest[:], nil)
}

func (c *Basic256Sha256Capability) AsymmetricVerify(data, signature []byte) error {
	if c.peerCert == nil {
		return ErrNoPeerCert
	}
	pub, ok := c.peerCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("crypto: peer certificate is not RSA")
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, nil); err != nil {
		return ErrBadSignature
	}
	return nil
}

// DeriveChannelKeys runs HKDF-SHA256 over the concatenated client and
// server nonces, producing independent signing/encryption/IV key
// material for each traffic direction, then installs the result for
// subsequent Sign/Verify/Encrypt/Decrypt calls.
func (c *Basic256Sha256Capability) DeriveChannelKeys(clientNonce, serverNonce []byte) (ChannelKeySet, error) {
	const perDirectionLen = basic256SigningKeyLen + basic256EncryptionKeyLen + basic256IVLen

	clientToServer, err := deriveDirectionKeys(clientNonce, serverNonce, []byte("client-to-server"), perDirectionLen)
	if err != nil {
		return ChannelKeySet{}, err
	}
	serverToClient, err := deriveDirectionKeys(serverNonce, clientNonce, []byte("server-to-client"), perDirectionLen)
	if err != nil {
		return ChannelKeySet{}, err
	}

	c.keys = ChannelKeySet{ClientToServer: clientToServer, ServerToClient: serverToClient}
	c.haveKeys = true
	return c.keys, nil
}

func deriveDirectionKeys(secret, salt, info []byte, length int) (DerivedKeys, error) {
	reader := hkdf.New(sha256.New, secret, salt, info)
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return DerivedKeys{}, err
	}
	return DerivedKeys{
		SigningKey:    buf[:basic256SigningKeyLen],
		EncryptionKey: buf[basic256SigningKeyLen : basic256SigningKeyLen+basic256EncryptionKeyLen],
		IV:            buf[basic256SigningKeyLen+basic256EncryptionKeyLen:],
	}, nil
}

// ErrInvalidKeyState is returned when a symmetric operation is invoked
// before DeriveChannelKeys has installed key material for the channel.
var ErrInvalidKeyState = errors.New("crypto: channel keys not derived")
