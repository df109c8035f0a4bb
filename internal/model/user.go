// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーに割り当てられる権限ロールを表す。
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleExecutive        Role = "executive"
	RoleBusinessManager  Role = "business_manager"
	RoleMarketingManager Role = "marketing_manager"
	RoleProductManager   Role = "product_manager"
	RoleDeveloper        Role = "developer"
	RoleAnalyst          Role = "analyst"
)

// DefaultRole は新規ユーザーに割り当てられるロール。
const DefaultRole = RoleAnalyst

// Roles は定義済みロールの一覧。
var Roles = []Role{
	RoleAdmin,
	RoleExecutive,
	RoleBusinessManager,
	RoleMarketingManager,
	RoleProductManager,
	RoleDeveloper,
	RoleAnalyst,
}

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	for _, v := range Roles {
		if r == v {
			return true
		}
	}
	return false
}

// User は管理画面の利用ユーザーを表す。
type User struct {
	ID         int64      `db:"id"`
	Email      string     `db:"email"`
	FullName   string     `db:"full_name"`
	AvatarURL  *string    `db:"avatar_url"`
	GoogleID   *string    `db:"google_id"`
	Role       Role       `db:"role"`
	IsActive   bool       `db:"is_active"`
	IsVerified bool       `db:"is_verified"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  *time.Time `db:"updated_at"`
	LastLogin  *time.Time `db:"last_login"`
}

// IsAdmin はユーザーが管理者ロールかどうかを返す。
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// IdentityClaim は外部IdPのIDトークンから検証済みで取り出した本人情報。
type IdentityClaim struct {
	Email   string
	Subject string // Googleのsub
	Name    string
	Picture string
}

// UserPatch はユーザー更新の部分入力。nilのフィールドは変更しない。
type UserPatch struct {
	FullName *string
	Role     *Role
	IsActive *bool
}

// NewUserInput は管理者によるユーザー作成の入力。
type NewUserInput struct {
	Email     string
	FullName  string
	Role      Role
	AvatarURL *string
	GoogleID  *string
}
