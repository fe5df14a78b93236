package service

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Identity 解析后的（用户, 凭据）身份
type Identity struct {
	EmployeeID      string
	IdentityHash    string
	Name            string
	BirthDateText   string
	PhoneNormalized string

	// Drifted 存量哈希与新算结果不一致（凭据/机构发生变更）
	Drifted bool
}

// ResolveIdentity 由规范化后的身份字段计算稳定的身份哈希
// 纯函数：姓名去首尾空白，手机号仅保留数字，机构代码去空白。
// 若 storedIdentityHash 非空且与新算结果不一致，以新算结果为准
// （凭据是事实来源），Drifted 置位，对账由调用方负责。
func ResolveIdentity(employeeID, loginOrgCd, name, birthDate, phone, storedIdentityHash string) Identity {
	normName := strings.TrimSpace(name)
	normBirth := strings.TrimSpace(birthDate)
	normPhone := digitsOnly(phone)
	normOrg := strings.TrimSpace(loginOrgCd)

	sum := sha256.Sum256([]byte("nhis-identity|v1|" + normName + "|" + normBirth + "|" + normPhone + "|" + normOrg))
	hash := hex.EncodeToString(sum[:])

	return Identity{
		EmployeeID:      employeeID,
		IdentityHash:    hash,
		Name:            normName,
		BirthDateText:   normBirth,
		PhoneNormalized: normPhone,
		Drifted:         storedIdentityHash != "" && storedIdentityHash != hash,
	}
}

// RequestDescriptor 一次抓取请求的形状
type RequestDescriptor struct {
	IdentityHash string
	Targets      []string
	YearLimit    int
	FromDate     string // YYYYMMDD
	ToDate       string // YYYYMMDD
	SubjectType  string
}

// RequestKey 请求哈希结果
type RequestKey struct {
	RequestHash       string   // SHA-256 hex 摘要（缓存查找键）
	RequestKey        string   // 未摘要的可读键（调试用）
	NormalizedTargets []string // 排序后的 target 列表
}

// BuildRequestHash 计算请求哈希
// target 列表先按字典序排序，语义相同的请求无论传入顺序如何都会
// 落到同一个缓存键。跨进程稳定：无随机性、无指针依赖。
func BuildRequestHash(d RequestDescriptor) RequestKey {
	normalized := make([]string, 0, len(d.Targets))
	for _, t := range d.Targets {
		t = strings.TrimSpace(t)
		if t != "" {
			normalized = append(normalized, t)
		}
	}
	sort.Strings(normalized)

	key := d.IdentityHash +
		"|" + strings.Join(normalized, ",") +
		"|" + strconv.Itoa(d.YearLimit) +
		"|" + d.FromDate +
		"|" + d.ToDate +
		"|" + d.SubjectType

	sum := sha256.Sum256([]byte(key))

	return RequestKey{
		RequestHash:       hex.EncodeToString(sum[:]),
		RequestKey:        key,
		NormalizedTargets: normalized,
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
