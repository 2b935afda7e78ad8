// Package inventory defines the collected cloud inventory model for skyquery.
package inventory

import (
	"sort"
	"strings"
)

// Category is a class of cloud resource (e.g., "EC2", "S3").
// The set is closed; see All.
type Category string

// Known categories, in canonical order.
const (
	EC2         Category = "EC2"
	S3          Category = "S3"
	Lambda      Category = "Lambda"
	IAM         Category = "IAM"
	RDS         Category = "RDS"
	DynamoDB    Category = "DynamoDB"
	ECS         Category = "ECS"
	EKS         Category = "EKS"
	ELB         Category = "ELB"
	Route53     Category = "Route53"
	CloudWatch  Category = "CloudWatch"
	SQS         Category = "SQS"
	KMS         Category = "KMS"
	ECR         Category = "ECR"
	AutoScaling Category = "AutoScaling"
	Redshift    Category = "Redshift"
	MemoryDB    Category = "MemoryDB"
	CloudTrail  Category = "CloudTrail"
)

// Subtype is a resource kind inside a category (e.g., "instances" in EC2).
type Subtype string

// Subtypes used across categories.
const (
	Instances      Subtype = "instances"
	SecurityGroups Subtype = "security_groups"
	VPCs           Subtype = "vpcs"
	Subnets        Subtype = "subnets"
	Volumes        Subtype = "volumes"
	Buckets        Subtype = "buckets"
	Functions      Subtype = "functions"
	Users          Subtype = "users"
	Roles          Subtype = "roles"
	Policies       Subtype = "policies"
	DBInstances    Subtype = "db_instances"
	DBClusters     Subtype = "db_clusters"
	Tables         Subtype = "tables"
	Clusters       Subtype = "clusters"
	LoadBalancers  Subtype = "load_balancers"
	TargetGroups   Subtype = "target_groups"
	HostedZones    Subtype = "hosted_zones"
	LogGroups      Subtype = "log_groups"
	Queues         Subtype = "queues"
	Keys           Subtype = "keys"
	Repositories   Subtype = "repositories"
	Groups         Subtype = "groups"
	Trails         Subtype = "trails"
)

var categoryOrder = []Category{
	EC2, S3, Lambda, IAM, RDS, DynamoDB, ECS, EKS, ELB, Route53,
	CloudWatch, SQS, KMS, ECR, AutoScaling, Redshift, MemoryDB, CloudTrail,
}

var subtypes = map[Category][]Subtype{
	EC2:         {Instances, SecurityGroups, VPCs, Subnets, Volumes},
	S3:          {Buckets},
	Lambda:      {Functions},
	IAM:         {Users, Roles, Policies},
	RDS:         {DBInstances, DBClusters},
	DynamoDB:    {Tables},
	ECS:         {Clusters},
	EKS:         {Clusters},
	ELB:         {LoadBalancers, TargetGroups},
	Route53:     {HostedZones},
	CloudWatch:  {LogGroups},
	SQS:         {Queues},
	KMS:         {Keys},
	ECR:         {Repositories},
	AutoScaling: {Groups},
	Redshift:    {Clusters},
	MemoryDB:    {Clusters},
	CloudTrail:  {Trails},
}

var categoryIndex = func() map[Category]int {
	m := make(map[Category]int, len(categoryOrder))
	for i, c := range categoryOrder {
		m[c] = i
	}
	return m
}()

// All returns every known category in canonical order.
func All() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// Known reports whether c is part of the closed category set.
func (c Category) Known() bool {
	_, ok := categoryIndex[c]
	return ok
}

// Subtypes returns the resource kinds collected for c.
func (c Category) Subtypes() []Subtype {
	return append([]Subtype(nil), subtypes[c]...)
}

// Parse resolves a user-supplied category name case-insensitively.
func Parse(name string) (Category, bool) {
	name = strings.TrimSpace(name)
	for _, c := range categoryOrder {
		if strings.EqualFold(string(c), name) {
			return c, true
		}
	}
	return "", false
}

// Sorted returns the known members of cats, de-duplicated, in canonical order.
func Sorted(cats []Category) []Category {
	seen := make(map[Category]bool, len(cats))
	out := make([]Category, 0, len(cats))
	for _, c := range cats {
		if !c.Known() || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return categoryIndex[out[i]] < categoryIndex[out[j]]
	})
	return out
}
