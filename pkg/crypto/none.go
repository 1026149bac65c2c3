package crypto

// NoneCapability implements Capability for SecurityPolicyNone: every
// operation is a no-op pass-through, matching spec.md §4.3's None mode
// (asymmetric OPN chunks still carry certificate fields, but the body
// stays cleartext).
type NoneCapability struct{}

const PolicyURINone = "http://opcfoundation.org/UA/SecurityPolicy#None"

func NewNoneCapability() *NoneCapability { return &NoneCapability{} }

func (c *NoneCapability) PolicyURI() string { return PolicyURINone }
func (c *NoneCapability) SignatureSize() int { return 0 }
func (c *NoneCapability) BlockSize() int      { return 1 }

func (c *NoneCapability) Sign(Direction, []byte) ([]byte, error)            { return nil, nil }
func (c *NoneCapability) Verify(Direction, []byte, []byte) error            { return nil }
func (c *NoneCapability) Encrypt(_ Direction, plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (c *NoneCapability) Decrypt(_ Direction, ciphertext []byte) ([]byte, error) { return ciphertext, nil }

func (c *NoneCapability) AsymmetricEncrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (c *NoneCapability) AsymmetricDecrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }
func (c *NoneCapability) AsymmetricSign([]byte) ([]byte, error)              { return nil, nil }
func (c *NoneCapability) AsymmetricVerify([]byte, []byte) error             { return nil }

func (c *NoneCapability) DeriveChannelKeys(_, _ []byte) (ChannelKeySet, error) {
	return ChannelKeySet{}, nil
}
