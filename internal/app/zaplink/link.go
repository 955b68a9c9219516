package zaplink

import (
	"fmt"
	"time"
)

// PolicyKind 自毁策略类型。数值会直接落库（links.policy_kind），不要调整顺序。
type PolicyKind int

const (
	PolicyUnlimited PolicyKind = iota
	PolicyMaxViews
	PolicyExpiresAt
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyUnlimited:
		return "unlimited"
	case PolicyMaxViews:
		return "max_views"
	case PolicyExpiresAt:
		return "expires_at"
	default:
		return fmt.Sprintf("PolicyKind(%d)", int(k))
	}
}

// ParsePolicyKind 是 String 的逆操作，用于 Redis 等以字符串存储策略的后端。
func ParsePolicyKind(s string) (PolicyKind, error) {
	switch s {
	case "unlimited", "":
		return PolicyUnlimited, nil
	case "max_views":
		return PolicyMaxViews, nil
	case "expires_at":
		return PolicyExpiresAt, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidPolicy, s)
}

// Policy 是链接的自毁策略：Unlimited、MaxViews(n) 或 ExpiresAt(t)，创建后不可变。
type Policy struct {
	Kind      PolicyKind
	MaxViews  int64
	ExpiresAt time.Time
}

func Unlimited() Policy { return Policy{Kind: PolicyUnlimited} }

func MaxViews(n int64) Policy { return Policy{Kind: PolicyMaxViews, MaxViews: n} }

func ExpiresAt(t time.Time) Policy { return Policy{Kind: PolicyExpiresAt, ExpiresAt: t} }

func (p Policy) Validate() error {
	switch p.Kind {
	case PolicyUnlimited:
		return nil
	case PolicyMaxViews:
		if p.MaxViews < 1 {
			return fmt.Errorf("%w: max views must be >= 1", ErrInvalidPolicy)
		}
		return nil
	case PolicyExpiresAt:
		if p.ExpiresAt.IsZero() {
			return fmt.Errorf("%w: missing expiry", ErrInvalidPolicy)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown kind %d", ErrInvalidPolicy, p.Kind)
}

// Allows 判断在已有 viewCount 次访问的前提下，now 时刻是否还能再放行一次。
// ExpiresAt 在到点的那一刻即失效。
func (p Policy) Allows(viewCount int64, now time.Time) bool {
	switch p.Kind {
	case PolicyMaxViews:
		return viewCount < p.MaxViews
	case PolicyExpiresAt:
		return now.Before(p.ExpiresAt)
	default:
		return true
	}
}

// SpentBy 判断 viewCount 次访问之后次数预算是否已经用完。
func (p Policy) SpentBy(viewCount int64) bool {
	return p.Kind == PolicyMaxViews && viewCount >= p.MaxViews
}

func (p Policy) String() string {
	switch p.Kind {
	case PolicyMaxViews:
		return fmt.Sprintf("MaxViews(%d)", p.MaxViews)
	case PolicyExpiresAt:
		return fmt.Sprintf("ExpiresAt(%s)", p.ExpiresAt.UTC().Format(time.RFC3339))
	default:
		return "Unlimited"
	}
}

// ArtifactRef 是 Upload Store 返回的不透明引用。
type ArtifactRef string

// Link 一次分享生成的短链。
type Link struct {
	ID           int64
	Code         string
	Name         string
	ArtifactRef  ArtifactRef
	FileName     string
	ContentType  string
	Size         int64
	PasswordHash string
	Policy       Policy
	ViewCount    int64
	OwnerID      *int64
	CreatedAt    time.Time
	ExhaustedAt  *time.Time // 墓碑：非空即永久不可访问
}

func (l Link) Protected() bool { return l.PasswordHash != "" }

func (l Link) Tombstoned() bool { return l.ExhaustedAt != nil }

// Accessible 不修改状态，只回答“现在去访问是否可能成功”。真正的放行以 Store.ConsumeView 为准。
func (l Link) Accessible(now time.Time) bool {
	return !l.Tombstoned() && l.Policy.Allows(l.ViewCount, now)
}

// RemainingViews 仅对 MaxViews 策略有意义。
func (l Link) RemainingViews() (int64, bool) {
	if l.Policy.Kind != PolicyMaxViews {
		return 0, false
	}
	left := l.Policy.MaxViews - l.ViewCount
	if left < 0 || l.Tombstoned() {
		left = 0
	}
	return left, true
}

// NewLink 创建链接所需的全部不可变字段。
type NewLink struct {
	Name         string
	ArtifactRef  ArtifactRef
	FileName     string
	ContentType  string
	Size         int64
	PasswordHash string
	Policy       Policy
	OwnerID      *int64
	CreatedAt    time.Time
}

func (nl NewLink) Validate() error {
	if err := ValidateName(nl.Name); err != nil {
		return err
	}
	if nl.ArtifactRef == "" {
		return fmt.Errorf("%w: empty artifact ref", ErrInvalidFile)
	}
	if nl.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrInvalidPolicy)
	}
	return nl.Policy.Validate()
}

// Build 把 NewLink 转成初始状态的 Link（view_count=0，无墓碑），供各个 Store 实现共用。
func (nl NewLink) Build(id int64, code string) Link {
	return Link{
		ID:           id,
		Code:         code,
		Name:         nl.Name,
		ArtifactRef:  nl.ArtifactRef,
		FileName:     nl.FileName,
		ContentType:  nl.ContentType,
		Size:         nl.Size,
		PasswordHash: nl.PasswordHash,
		Policy:       nl.Policy,
		OwnerID:      nl.OwnerID,
		CreatedAt:    nl.CreatedAt,
	}
}
