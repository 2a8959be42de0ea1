// internal/fulfillment/infrastructure/routing/cel_resolver.go
package routing

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/pkg/config"
)

// CELResolver 用 CEL 表达式决定商品行归属哪个供应商。
// 规则按声明顺序求值，第一条命中的胜出；全部未命中时回落到兜底供应商。
// 表达式在构造时统一编译，坏规则在启动阶段就暴露而不是跑单时。
type CELResolver struct {
	rules           []compiledRule
	defaultSupplier string
}

type compiledRule struct {
	supplier string
	program  cel.Program
}

// NewCELResolver 编译所有路由规则。
// 任何一条规则编译失败都直接返回错误，不允许带病启动。
func NewCELResolver(cfg config.Config) (*CELResolver, error) {
	env, err := cel.NewEnv(
		cel.Variable("marketplace", cel.StringType),
		cel.Variable("product_id", cel.StringType),
		cel.Variable("supplier_product_id", cel.StringType),
		cel.Variable("product_name", cel.StringType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("unit_price", cel.DoubleType),
	)
	if err != nil {
		return nil, err
	}

	rules := make([]compiledRule, 0, len(cfg.Routing.Rules))
	for _, r := range cfg.Routing.Rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("routing rule for %q: %w", r.Supplier, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("routing rule for %q: %w", r.Supplier, err)
		}
		rules = append(rules, compiledRule{supplier: r.Supplier, program: prg})
	}

	return &CELResolver{
		rules:           rules,
		defaultSupplier: cfg.Routing.DefaultSupplier,
	}, nil
}

// Resolve 为一个商品行求值出供应商编码。
// 单条规则求值出错按未命中处理，继续尝试后面的规则。
func (r *CELResolver) Resolve(order *domain.Order, item domain.OrderItem) string {
	unitPrice, _ := item.UnitPrice.Float64()
	facts := map[string]interface{}{
		"marketplace":         order.Marketplace,
		"product_id":          item.ProductID,
		"supplier_product_id": item.SupplierProductID,
		"product_name":        item.ProductName,
		"quantity":            int64(item.Quantity),
		"unit_price":          unitPrice,
	}

	for _, rule := range r.rules {
		out, _, err := rule.program.Eval(facts)
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return rule.supplier
		}
	}
	return r.defaultSupplier
}

// ResolveOrder 订单级路由：所有商品行必须归属同一个供应商，
// 出现分歧时以第一个商品行的归属为准。
func (r *CELResolver) ResolveOrder(order *domain.Order) string {
	if len(order.Items) == 0 {
		return r.defaultSupplier
	}
	return r.Resolve(order, order.Items[0])
}
