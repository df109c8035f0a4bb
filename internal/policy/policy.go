// Package policy はロールと所有関係に基づくアクセス可否判定を提供する。
// 判定は純粋関数であり、I/Oを行わない。
package policy

import "github.com/hitoshi/pubadmin/internal/model"

// Action はリソースに対する操作種別。
type Action string

const (
	ActionRead   Action = "read"
	ActionList   Action = "list"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionUpload Action = "upload"
	// ActionManage はユーザーのrole・is_activeの変更を表す。
	ActionManage Action = "manage"
)

// ResourceKind は判定対象のリソース種別。
type ResourceKind string

const (
	KindUser              ResourceKind = "user"
	KindApp               ResourceKind = "app"
	KindAnalyticsOverview ResourceKind = "analytics_overview"
	KindAppAnalytics      ResourceKind = "app_analytics"
	KindDashboard         ResourceKind = "dashboard"
)

// Owners はアプリの関係者。ProductManager・Marketingは未割り当ての場合nil。
type Owners struct {
	Creator        int64
	ProductManager *int64
	Marketing      *int64
}

// OwnersOf はアプリの関係者を取り出す。
func OwnersOf(app *model.App) Owners {
	if app == nil {
		return Owners{}
	}
	return Owners{
		Creator:        app.CreatedBy,
		ProductManager: app.AssignedPM,
		Marketing:      app.AssignedMarketing,
	}
}

// Resource は判定対象。Ownersはアプリの場合のみ意味を持つ。
type Resource struct {
	Kind   ResourceKind
	Owners Owners
}

// App はアプリに対する判定対象を生成する。
func App(app *model.App) Resource {
	return Resource{Kind: KindApp, Owners: OwnersOf(app)}
}

// Allow はactorがresに対してactionを実行できるかを返す。
// targetIsSelfはユーザーリソースが操作者自身であるかを表す。
// actorがnilまたは無効化済み、未知の種別・操作の場合はfalseを返す。
func Allow(actor *model.User, res Resource, action Action, targetIsSelf bool) bool {
	if actor == nil || !actor.IsActive || !actor.Role.Valid() {
		return false
	}
	if !knownAction(action) {
		return false
	}

	switch res.Kind {
	case KindUser:
		return allowUser(actor, action, targetIsSelf)
	case KindApp:
		return allowApp(actor, res.Owners, action)
	case KindAnalyticsOverview:
		return action == ActionRead && hasRole(actor, model.RoleAdmin, model.RoleExecutive, model.RoleAnalyst)
	case KindAppAnalytics:
		return action == ActionRead && hasRole(actor, model.RoleAdmin, model.RoleExecutive, model.RoleAnalyst, model.RoleProductManager)
	case KindDashboard:
		return action == ActionRead
	}
	return false
}

func allowUser(actor *model.User, action Action, targetIsSelf bool) bool {
	if actor.Role == model.RoleAdmin {
		return true
	}
	switch action {
	case ActionRead, ActionUpdate:
		return targetIsSelf
	}
	return false
}

func allowApp(actor *model.User, owners Owners, action Action) bool {
	if actor.Role == model.RoleAdmin {
		return true
	}
	switch action {
	case ActionCreate:
		return true
	case ActionRead:
		return actor.Role == model.RoleExecutive || Involved(actor, owners)
	case ActionUpdate:
		return actor.Role == model.RoleExecutive ||
			actor.ID == owners.Creator ||
			isUser(owners.ProductManager, actor.ID)
	case ActionDelete:
		return actor.ID == owners.Creator
	case ActionUpload:
		// developerロールは関係者でなくてもアップロードできる
		return actor.Role == model.RoleDeveloper || actor.ID == owners.Creator
	case ActionList:
		return true
	}
	return false
}

// CanListAll はactorが種別kindの全件を一覧できるかを返す。
// falseの場合、一覧は自分に関係するものに絞り込まれる。
func CanListAll(actor *model.User, kind ResourceKind) bool {
	if actor == nil || !actor.IsActive {
		return false
	}
	switch kind {
	case KindUser:
		return actor.Role == model.RoleAdmin
	case KindApp:
		return hasRole(actor, model.RoleAdmin, model.RoleExecutive)
	}
	return false
}

// Involved はactorがアプリの作成者・PM・マーケティング担当のいずれかであるかを返す。
func Involved(actor *model.User, owners Owners) bool {
	if actor == nil {
		return false
	}
	return actor.ID == owners.Creator ||
		isUser(owners.ProductManager, actor.ID) ||
		isUser(owners.Marketing, actor.ID)
}

func isUser(id *int64, userID int64) bool {
	return id != nil && *id == userID
}

func hasRole(actor *model.User, roles ...model.Role) bool {
	for _, r := range roles {
		if actor.Role == r {
			return true
		}
	}
	return false
}

func knownAction(a Action) bool {
	switch a {
	case ActionRead, ActionList, ActionCreate, ActionUpdate, ActionDelete, ActionUpload, ActionManage:
		return true
	}
	return false
}

// DenialRecorder は権限拒否を記録する。
type DenialRecorder interface {
	RecordDenial(kind ResourceKind, action Action)
}
