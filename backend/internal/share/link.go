package share

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
)

const (
	roomTokenBytes = 10 // 20 位十六进制
	roomFragment   = "room="
	shareFragment  = "json="
)

var (
	roomIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	keyPattern       = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	roomLinkPattern  = regexp.MustCompile(`^#?room=([A-Za-z0-9_-]+),([A-Za-z0-9_-]+)$`)
	shareLinkPattern = regexp.MustCompile(`^#?json=([A-Za-z0-9_-]+),([A-Za-z0-9_-]+)$`)
)

// 随机源，测试里可替换成会失败的 reader
var randReader io.Reader = rand.Reader

// ValidRoomID 房间 token 只允许 [A-Za-z0-9_-]，长度 1..128
func ValidRoomID(id string) bool { return roomIDPattern.MatchString(id) }

type LinkKind int

const (
	LinkNone  LinkKind = iota
	LinkRoom           // #room=<token>,<key>
	LinkShare          // #json=<snapshotId>,<key>
)

// Link URL fragment 中携带的房间或快照引用；key 只存在于 fragment，不会发给服务端
type Link struct {
	Kind LinkKind
	ID   string
	Key  string
}

// GenerateKey 生成 32 字节随机对称密钥，base64url 无填充编码
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(randReader, key); err != nil {
		return "", &Error{Code: CodeKeyGeneration, Message: "generate key", Err: err}
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

// DeriveLinkData 生成新的协作房间：随机 token + 新密钥
// 随机源不可用时直接返回错误，不会退化成弱密钥
func DeriveLinkData() (Link, error) {
	token := make([]byte, roomTokenBytes)
	if _, err := io.ReadFull(randReader, token); err != nil {
		return Link{}, &Error{Code: CodeKeyGeneration, Message: "generate room token", Err: err}
	}
	key, err := GenerateKey()
	if err != nil {
		return Link{}, err
	}
	return Link{Kind: LinkRoom, ID: hex.EncodeToString(token), Key: key}, nil
}

func (l Link) Fragment() string {
	switch l.Kind {
	case LinkRoom:
		return roomFragment + l.ID + "," + l.Key
	case LinkShare:
		return shareFragment + l.ID + "," + l.Key
	}
	return ""
}

// EncodeLink 把 link 写进 baseURL 的 fragment，覆盖原有 fragment
func EncodeLink(baseURL string, l Link) (string, error) {
	if l.Kind != LinkRoom && l.Kind != LinkShare {
		return "", fmt.Errorf("encode link: unknown kind %d", l.Kind)
	}
	if !ValidRoomID(l.ID) || !keyPattern.MatchString(l.Key) {
		return "", fmt.Errorf("encode link: id or key outside [A-Za-z0-9_-]")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("encode link: %w", err)
	}
	u.Fragment = l.Fragment()
	u.RawFragment = ""
	return u.String(), nil
}

// ParseLink 解析协作链接 #room=<token>,<key>；完整 URL 或单独 fragment 均可
func ParseLink(raw string) (Link, bool) {
	link, ok := parseFragment(raw)
	if !ok || link.Kind != LinkRoom {
		return Link{}, false
	}
	return link, true
}

// ParseShareLink 解析分享链接 #json=<snapshotId>,<key>
func ParseShareLink(raw string) (Link, bool) {
	link, ok := parseFragment(raw)
	if !ok || link.Kind != LinkShare {
		return Link{}, false
	}
	return link, true
}

// 按前缀分派，两种链接不会互相误判
func parseFragment(raw string) (Link, bool) {
	fragment := raw
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		fragment = raw[i+1:]
	}
	if unescaped, err := url.PathUnescape(fragment); err == nil {
		fragment = unescaped
	}

	var (
		kind LinkKind
		m    []string
	)
	switch {
	case strings.HasPrefix(fragment, roomFragment):
		kind, m = LinkRoom, roomLinkPattern.FindStringSubmatch(fragment)
	case strings.HasPrefix(fragment, shareFragment):
		kind, m = LinkShare, shareLinkPattern.FindStringSubmatch(fragment)
	}
	if m == nil || !ValidRoomID(m[1]) {
		return Link{}, false
	}
	return Link{Kind: kind, ID: m[1], Key: m[2]}, true
}
