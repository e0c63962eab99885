package domain

import (
	"net/mail"
	"regexp"
	"strings"
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253

	// 别名前缀最大长度
	MaxPrefixLength = 40

	MinPasswordLength = 8
	MaxPasswordLength = 128
)

var (
	prefixDisallowed = regexp.MustCompile(`[^a-z0-9._-]+`)

	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)
)

// NormalizePrefix 规范化用户提供的别名前缀：
// 转小写，去掉 [a-z0-9._-] 以外的字符，去掉首尾分隔符，截断到 MaxPrefixLength。
// 结果为空时返回 ErrPrefixInvalid。
func NormalizePrefix(prefix string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(prefix))
	p = prefixDisallowed.ReplaceAllString(p, "")
	p = strings.Trim(p, "._-")
	if len(p) > MaxPrefixLength {
		p = strings.TrimRight(p[:MaxPrefixLength], "._-")
	}
	if p == "" {
		return "", ErrPrefixInvalid
	}
	return p, nil
}

// ParseAddress 解析 "Display Name <addr>" 或裸地址。
// 返回小写的裸地址和显示名（没有显示名时为空串）。
func ParseAddress(raw string) (addr, name string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrInvalidEmail
	}
	parsed, perr := mail.ParseAddress(raw)
	if perr != nil {
		return "", "", ErrInvalidEmail
	}
	addr = strings.ToLower(parsed.Address)
	if err := ValidateEmail(addr); err != nil {
		return "", "", err
	}
	return addr, strings.TrimSpace(parsed.Name), nil
}

// ValidateEmail 校验裸邮箱地址的长度与域名格式。
func ValidateEmail(email string) error {
	if email == "" || len(email) > MaxEmailLength {
		return ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ErrInvalidEmail
	}
	local, domain := email[:at], email[at+1:]
	if len(local) > MaxLocalPartLength || strings.Contains(local, "@") {
		return ErrInvalidEmail
	}
	if !ValidateDomain(domain) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateDomain 校验域名，要求至少包含一个点。
func ValidateDomain(domain string) bool {
	if domain == "" || len(domain) > MaxDomainLength {
		return false
	}
	if !strings.Contains(domain, ".") || strings.Contains(domain, "..") {
		return false
	}
	if !domainRegex.MatchString(domain) {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}

// ValidatePassword 校验密码长度。
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
