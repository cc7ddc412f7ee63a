//go:build !go_tarantool_ssl_disable
// +build !go_tarantool_ssl_disable

package tarantool

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/tarantool/go-openssl"
)

func sslDialTimeout(network, address string, timeout time.Duration,
	opts SslOpts) (net.Conn, error) {
	ctx, err := sslCreateContext(opts)
	if err != nil {
		return nil, fmt.Errorf("ssl context: %w", err)
	}

	return openssl.DialTimeout(network, address, timeout, ctx.(*openssl.Ctx), 0)
}

// interface{} keeps go-openssl out of the signature, so builds with the
// 'go_tarantool_ssl_disable' tag do not depend on it.
func sslCreateContext(opts SslOpts) (interface{}, error) {
	// Require TLSv1.2, because other protocol versions don't seem to
	// support the GOST cipher.
	sslCtx, err := openssl.NewCtxWithVersion(openssl.TLSv1_2)
	if err != nil {
		return nil, err
	}
	sslCtx.SetMaxProtoVersion(openssl.TLS1_2_VERSION)
	sslCtx.SetMinProtoVersion(openssl.TLS1_2_VERSION)

	if opts.CertFile != "" {
		if err = sslLoadCert(sslCtx, opts.CertFile); err != nil {
			return nil, err
		}
	}
	if opts.KeyFile != "" {
		if err = sslLoadKey(sslCtx, opts.KeyFile); err != nil {
			return nil, err
		}
	}
	if opts.CaFile != "" {
		if err = sslCtx.LoadVerifyLocations(opts.CaFile, ""); err != nil {
			return nil, err
		}
		sslCtx.SetVerify(openssl.VerifyPeer|openssl.VerifyFailIfNoPeerCert, nil)
	}
	if opts.Ciphers != "" {
		if err = sslCtx.SetCipherList(opts.Ciphers); err != nil {
			return nil, err
		}
	}
	return sslCtx, nil
}

func sslLoadCert(ctx *openssl.Ctx, certFile string) error {
	certBytes, err := os.ReadFile(certFile)
	if err != nil {
		return err
	}

	certs := openssl.SplitPEM(certBytes)
	if len(certs) == 0 {
		return fmt.Errorf("no PEM certificate found in %s", certFile)
	}
	first, chain := certs[0], certs[1:]

	cert, err := openssl.LoadCertificateFromPEM(first)
	if err != nil {
		return err
	}
	if err = ctx.UseCertificate(cert); err != nil {
		return err
	}
	for _, pem := range chain {
		if cert, err = openssl.LoadCertificateFromPEM(pem); err != nil {
			return err
		}
		if err = ctx.AddChainCertificate(cert); err != nil {
			return err
		}
	}
	return nil
}

func sslLoadKey(ctx *openssl.Ctx, keyFile string) error {
	keyBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}

	key, err := openssl.LoadPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return err
	}
	return ctx.UsePrivateKey(key)
}
