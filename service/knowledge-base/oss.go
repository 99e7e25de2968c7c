package knowledgebase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"study-agent-backend/config"
	"study-agent-backend/response"
	"time"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	osscredentials "github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"
	"github.com/aliyun/credentials-go/credentials"
)

const (
	signatureVersion = "OSS4-HMAC-SHA256"
	signingProduct   = "oss"
	signingTerminal  = "aliyun_v4_request"

	// 前端直传凭证有效期
	policyExpiration = time.Hour

	presignedURLExpiration = 15 * time.Minute
)

func newOSSClient() *oss.Client {
	cfg := &oss.Config{
		Region: oss.Ptr(config.Cfg.OSS.Region),
		CredentialsProvider: osscredentials.NewStaticCredentialsProvider(
			config.Cfg.OSS.AccessKeyID,
			config.Cfg.OSS.AccessKeySecret,
		),
	}
	return oss.NewClient(cfg)
}

// OSSFetcher 从OSS拉取源文件字节，实现处理原语的 ObjectFetcher
type OSSFetcher struct {
	client *oss.Client
}

func NewOSSFetcher() *OSSFetcher {
	return &OSSFetcher{client: newOSSClient()}
}

func (f *OSSFetcher) FetchObject(ctx context.Context, objectName string) ([]byte, error) {
	result, err := f.client.GetObject(ctx, &oss.GetObjectRequest{
		Bucket: oss.Ptr(config.Cfg.OSS.BucketName),
		Key:    oss.Ptr(objectName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from oss: %v", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %v", err)
	}

	return data, nil
}

// GeneratePresignedURL 生成文件下载链接
func GeneratePresignedURL(objectName string) (string, error) {
	client := newOSSClient()
	result, err := client.Presign(context.Background(), &oss.GetObjectRequest{
		Bucket: oss.Ptr(config.Cfg.OSS.BucketName),
		Key:    oss.Ptr(objectName),
	}, oss.PresignExpires(presignedURLExpiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %v", objectName, err)
	}
	return result.URL, nil
}

// GeneratePolicyToken 生成前端直传OSS的V4签名凭证，上传目录限定在用户自己的前缀下
func GeneratePolicyToken(email string) (*response.GetPolicyTokenResponse, error) {
	akType := "access_key"
	akID := config.Cfg.OSS.AccessKeyID
	akSecret := config.Cfg.OSS.AccessKeySecret
	cred, err := credentials.NewCredential(&credentials.Config{
		Type:            &akType,
		AccessKeyId:     &akID,
		AccessKeySecret: &akSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %v", err)
	}

	accessKeyID, err := cred.GetAccessKeyId()
	if err != nil {
		return nil, fmt.Errorf("failed to get access key id: %v", err)
	}
	accessKeySecret, err := cred.GetAccessKeySecret()
	if err != nil {
		return nil, fmt.Errorf("failed to get access key secret: %v", err)
	}

	now := time.Now().UTC()
	date := now.Format("20060102T150405Z")
	dateShort := now.Format("20060102")
	expiration := now.Add(policyExpiration).Format("2006-01-02T15:04:05.000Z")
	credential := fmt.Sprintf("%s/%s/%s/%s/%s",
		*accessKeyID, dateShort, config.Cfg.OSS.Region, signingProduct, signingTerminal)
	dir := email + "/"

	policy := map[string]any{
		"expiration": expiration,
		"conditions": []any{
			map[string]string{"bucket": config.Cfg.OSS.BucketName},
			map[string]string{"x-oss-signature-version": signatureVersion},
			map[string]string{"x-oss-credential": credential},
			map[string]string{"x-oss-date": date},
			[]any{"starts-with", "$key", dir},
		},
	}
	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy: %v", err)
	}
	policyBase64 := base64.StdEncoding.EncodeToString(policyJSON)

	signingKey := hmacSHA256([]byte("aliyun_v4"+*accessKeySecret), dateShort)
	signingKey = hmacSHA256(signingKey, config.Cfg.OSS.Region)
	signingKey = hmacSHA256(signingKey, signingProduct)
	signingKey = hmacSHA256(signingKey, signingTerminal)
	signature := hex.EncodeToString(hmacSHA256(signingKey, policyBase64))

	return &response.GetPolicyTokenResponse{
		Policy:           policyBase64,
		SignatureVersion: signatureVersion,
		Credential:       credential,
		Date:             date,
		Signature:        signature,
		Host:             config.Cfg.OSS.Host,
		Dir:              dir,
	}, nil
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
