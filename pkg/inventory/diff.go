package inventory

import (
	"encoding/json"
	"sort"
)

// DiffType represents the type of change detected between two collections.
type DiffType string

const (
	// DiffAdded indicates a record that was not present before.
	DiffAdded DiffType = "added"
	// DiffDeleted indicates a record that no longer exists.
	DiffDeleted DiffType = "deleted"
	// DiffModified indicates a record whose fields changed.
	DiffModified DiffType = "modified"
)

// RecordDiff is a detected change to one record.
type RecordDiff struct {
	Type     DiffType `json:"type"`
	Category Category `json:"category"`
	Subtype  Subtype  `json:"subtype"`
	ID       string   `json:"id"`
}

// subtypeIdentity names the fields that identify a record of a subtype,
// in order.
var subtypeIdentity = map[Subtype][]string{
	Instances:      {"InstanceId", "ReservationId"},
	SecurityGroups: {"GroupId"},
	VPCs:           {"VpcId"},
	Subnets:        {"SubnetId", "SubnetArn"},
	Volumes:        {"VolumeId"},
	DBInstances:    {"DBInstanceIdentifier"},
	DBClusters:     {"DBClusterIdentifier"},
	LoadBalancers:  {"LoadBalancerArn"},
	TargetGroups:   {"TargetGroupArn"},
}

// identityFields are tried in order when the subtype has no entry or none
// of its fields is set. Parent references come last.
var identityFields = []string{
	"InstanceId", "ReservationId", "GroupId", "SubnetId", "VolumeId", "Name",
	"FunctionName", "UserName", "RoleName", "PolicyName", "DBInstanceIdentifier",
	"DBClusterIdentifier", "TableName", "ClusterName", "LoadBalancerArn",
	"TargetGroupArn", "Id", "QueueUrl", "KeyId", "RepositoryName",
	"AutoScalingGroupName", "ClusterIdentifier", "TrailARN", "LogGroupName",
	"Arn", "ARN", "VpcId",
}

// RecordKey returns the identity of a record of subtype sub, or "" when
// none is found.
func RecordKey(sub Subtype, r Record) string {
	for _, f := range subtypeIdentity[sub] {
		if v := r.Str(f); v != "" {
			return v
		}
	}
	for _, f := range identityFields {
		if v := r.Str(f); v != "" {
			return v
		}
	}
	return ""
}

// Diff compares two collections record by record. Categories that failed
// in either collection are skipped; records without identity are ignored.
func Diff(prev, cur RawResourceSet) []RecordDiff {
	var diffs []RecordDiff
	cats := make([]Category, 0, len(prev)+len(cur))
	cats = append(cats, prev.Categories()...)
	cats = append(cats, cur.Categories()...)

	for _, c := range Sorted(cats) {
		p, pok := prev[c]
		n, nok := cur[c]
		if (pok && !p.OK()) || (nok && !n.OK()) {
			continue
		}
		for _, sub := range c.Subtypes() {
			diffs = append(diffs, diffRecords(c, sub, index(sub, p.Data[sub]), index(sub, n.Data[sub]))...)
		}
	}
	return diffs
}

func index(sub Subtype, recs []Record) map[string]Record {
	m := make(map[string]Record, len(recs))
	for _, r := range recs {
		if k := RecordKey(sub, r); k != "" {
			m[k] = r
		}
	}
	return m
}

func diffRecords(c Category, sub Subtype, prev, cur map[string]Record) []RecordDiff {
	var out []RecordDiff
	for id, r := range cur {
		old, ok := prev[id]
		switch {
		case !ok:
			out = append(out, RecordDiff{Type: DiffAdded, Category: c, Subtype: sub, ID: id})
		case !sameRecord(old, r):
			out = append(out, RecordDiff{Type: DiffModified, Category: c, Subtype: sub, ID: id})
		}
	}
	for id := range prev {
		if _, ok := cur[id]; !ok {
			out = append(out, RecordDiff{Type: DiffDeleted, Category: c, Subtype: sub, ID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sameRecord(a, b Record) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}
