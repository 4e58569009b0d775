package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
)

// Config holds all the application config values.
// Not really a classical model since not saved into DB.
type Config struct {
	AdminEmail        string        // ADMINEMAIL
	Debug             bool          // DEBUG
	Port              int           // PORT
	Host              string        // HOST
	DbType            string        // DBTYPE
	DbDSN             string        // DBDSN
	PublicURL         *url.URL      // PUBLICURL
	EnablePush        bool          // ENABLEPUSH
	MaxBodySize       int64         // not documented
	OrgName           string        // ORGNAME
	LogoURL           *url.URL      // LOGOURL
	SigningKey        string        // SIGNINGKEY
	EncryptionKey     string        // ENCRYPTIONKEY
	OriginalIPHeader  string        // ORIGINALIPHEADER
	SSLMode           string        // SSLMODE
	SSLAutoCertsDir   string        // SSLAUTOCERTSDIR
	SSLCustomCertPath string        // SSLCUSTOMCERTPATH
	SSLCustomKeyPath  string        // SSLCUSTOMKEYPATH
	VapidPublicKey    string        // VAPIDPUBLICKEY
	VapidPrivateKey   string        // VAPIDPRIVATEKEY
	TokenValidity     time.Duration // TOKENVALIDITY
	NoticePageSize    int           // NOTICEPAGESIZE
}

func (config *Config) New() Config {
	var defaultConfig = Config{
		DbType:            "sqlite",
		DbDSN:             "/tmp/notify.db",
		Debug:             false,
		Port:              8080,
		Host:              "127.0.0.1",
		EnablePush:        true,
		MaxBodySize:       8192, // subscription and read-state payloads are small
		OrgName:           "School",
		TokenValidity:     12 * time.Hour,
		NoticePageSize:    20,
		SSLMode:           "off",
		SSLAutoCertsDir:   "/tmp",
		SSLCustomCertPath: "/ssl/cert.pem",
		SSLCustomKeyPath:  "/ssl/key.pem",
	}
	publicURL, _ := url.Parse(fmt.Sprintf("http://%s:%v", defaultConfig.Host, defaultConfig.Port))
	defaultConfig.PublicURL = publicURL
	// We create a default random key for signing auth tokens
	b := make([]byte, 32) // random ID
	rand.Read(b)
	key := base64.URLEncoding.EncodeToString(b)
	defaultConfig.SigningKey = key

	return defaultConfig
}

func (config *Config) Verify() {
	log.Printf("Auth tokens validity set to %v", config.TokenValidity)
	log.Printf("Public URL set to %s", config.PublicURL)
	if config.EncryptionKey == "" {
		log.Fatal("ENCRYPTIONKEY is required. You can use `openssl rand -hex 16` to generate it")
	} else if len(config.EncryptionKey) != 32 {
		log.Fatal("ENCRYPTIONKEY must be 32 characters")
	}
	if config.EnablePush {
		if config.AdminEmail == "" {
			log.Fatal("FATAL: ENABLEPUSH is true, so ADMINEMAIL must be set to a valid email address.")
		}
		if config.VapidPrivateKey == "" || config.VapidPublicKey == "" {
			log.Printf("FATAL: ENABLEPUSH is true, so VAPIDPRIVATEKEY and VAPIDPUBLICKEY must be defined and valid")
			log.Printf("If you have never defined them, here are some fresh values generated just for you.")
			if privateKey, publicKey, err := webpush.GenerateVAPIDKeys(); err == nil {
				log.Printf("VAPIDPUBLICKEY=\"%s\"", publicKey)
				log.Printf("VAPIDPRIVATEKEY=\"%s\"", privateKey)
			}
			log.Fatal("Add them to the environment variables. VAPIDPRIVATEKEY is sensitive, keep it secret.")
		}
	}
	config.SSLMode = strings.ToLower(config.SSLMode)
	if config.SSLMode != "off" && config.SSLMode != "auto" && config.SSLMode != "custom" && config.SSLMode != "proxy" {
		log.Fatal("SSLMODE must be one of off, auto, custom, proxy")
	}
}
