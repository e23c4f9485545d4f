package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/groupcache/singleflight"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/snitcher/mitmproxy/internal/logging"
	"github.com/snitcher/mitmproxy/internal/perror"
)

const (
	// rootKeyBits is the CA's own key size (spec.md §4.4: 4096-bit RSA).
	rootKeyBits = 4096

	// rootValidity is the CA certificate's lifetime (spec.md §4.4: 10 years).
	rootValidity = 10 * 365 * 24 * time.Hour

	// rootCommonName is the subject CN minted into the root, matching the
	// fixed name spec.md §4.4 requires ("CN=Snitcher CA").
	rootCommonName = "Snitcher CA"
)

// SelfSignCA is the concrete CA implementation: a 4096-bit RSA root kept in
// memory for the process lifetime, persisted to disk as a
// passphrase-encrypted PKCS#12 container, fronting a leaf cache that mints
// per-hostname certificates on demand.
type SelfSignCA struct {
	RootCert *x509.Certificate
	RootKey  *rsa.PrivateKey

	path   string
	leaves *leafCache
	log    logging.Logger
}

// caCreation de-duplicates concurrent GetOrCreateCA calls for the same
// file path, so that at most one caller performs the disk load/generate
// (spec.md §4.4: "GetOrCreate is idempotent under concurrent callers: at-
// most-one performs the write, others observe the loaded instance").
var caCreation singleflight.Group

// GetOrCreateCA loads the CA container at path, decrypting it with
// passphrase, or generates a new one if path is empty or doesn't exist
// yet. A generated CA is persisted to path only when path is non-empty;
// with an empty path it lives in memory only. log may be nil, in which
// case logging.Nop() is used.
func GetOrCreateCA(path, passphrase string, log logging.Logger) (CA, error) {
	if log == nil {
		log = logging.Nop()
	}

	v, err := caCreation.Do(path, func() (any, error) {
		return loadOrCreateCA(path, passphrase, log)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SelfSignCA), nil
}

func loadOrCreateCA(path, passphrase string, log logging.Logger) (*SelfSignCA, error) {
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			key, crt, err := pkcs12.Decode(data, passphrase)
			if err != nil {
				return nil, perror.NewCertificateError("load-ca", path, err)
			}
			rsaKey, ok := key.(*rsa.PrivateKey)
			if !ok {
				return nil, perror.NewCertificateError("load-ca", path, errors.New("CA key is not RSA"))
			}
			log.Info("loaded existing CA", "path", path)
			return newSelfSignCA(rsaKey, crt, path, log), nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, perror.NewCertificateError("load-ca", path, err)
		}
	}

	log.Info("generating new CA", "path", path)
	key, crt, err := generateRootCA()
	if err != nil {
		return nil, perror.NewCertificateError("generate-ca", path, err)
	}

	ca := newSelfSignCA(key, crt, path, log)
	if path != "" {
		if err := ca.saveTo(path, passphrase); err != nil {
			return nil, err
		}
	}
	return ca, nil
}

func newSelfSignCA(key *rsa.PrivateKey, crt *x509.Certificate, path string, log logging.Logger) *SelfSignCA {
	return &SelfSignCA{
		RootCert: crt,
		RootKey:  key,
		path:     path,
		leaves:   newLeafCache(key, crt),
		log:      log,
	}
}

func generateRootCA() (*rsa.PrivateKey, *x509.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: rootCommonName},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(rootValidity),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	crt, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return key, crt, nil
}

// saveTo persists the CA to an encrypted PKCS#12 container at path.
func (ca *SelfSignCA) saveTo(path, passphrase string) error {
	data, err := pkcs12.Encode(rand.Reader, ca.RootKey, ca.RootCert, nil, passphrase)
	if err != nil {
		return perror.NewCertificateError("save-ca", path, err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return perror.NewCertificateError("save-ca", path, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return perror.NewCertificateError("save-ca", path, err)
	}
	ca.log.Info("persisted CA", "path", path)
	return nil
}

// GetRootCA implements CA.
func (ca *SelfSignCA) GetRootCA() *x509.Certificate {
	return ca.RootCert
}

// GetCert implements CA.
func (ca *SelfSignCA) GetCert(hostname string) (*tls.Certificate, error) {
	if hostname == "" {
		return nil, perror.NewCertificateError("mint-leaf", hostname, errors.New("empty hostname"))
	}
	return ca.leaves.get(hostname)
}

// DummyCert mints a throwaway leaf for commonName without caching it,
// matching the teacher's cmd/dummycert debugging tool: a way to eyeball a
// freshly minted certificate without going through the shared cache.
func (ca *SelfSignCA) DummyCert(commonName string) (*tls.Certificate, error) {
	return ca.leaves.mint(normalizeHost(commonName))
}

func (ca *SelfSignCA) String() string {
	return fmt.Sprintf("SelfSignCA{subject=%s}", ca.RootCert.Subject.CommonName)
}
