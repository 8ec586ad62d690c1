package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"
	gutils "go.viam.com/utils"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, total := range []int{0, 1, 3, ParallelFactor, 1001} {
		seen := make([]int32, total)
		var groups int
		err := GroupWorkParallel(context.Background(), total, func(numGroups int) {
			groups = numGroups
		}, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				atomic.AddInt32(&seen[workNum], 1)
			}, nil
		})
		test.That(t, err, test.ShouldBeNil)
		if total > 0 {
			test.That(t, groups, test.ShouldBeLessThanOrEqualTo, total)
		}
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, int32(1))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := GroupWorkParallel(ctx, 10, nil, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return nil, nil
	})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestRunInParallel(t *testing.T) {
	wait100ms := func(ctx context.Context) error {
		gutils.SelectContextOrWait(ctx, 100*time.Millisecond)
		return ctx.Err()
	}

	elapsed, err := RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, elapsed, test.ShouldBeGreaterThan, 90*time.Millisecond)

	errFunc := func(ctx context.Context) error {
		return errors.New("bad")
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms, errFunc})
	test.That(t, err, test.ShouldNotBeNil)

	panicFunc := func(ctx context.Context) error {
		panic(1)
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{panicFunc})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHelpers(t *testing.T) {
	test.That(t, ClampInt(5, 0, 3), test.ShouldEqual, 3)
	test.That(t, ClampInt(-1, 0, 3), test.ShouldEqual, 0)
	test.That(t, ScaleByPct(10, 0.55), test.ShouldEqual, 5)
	test.That(t, RadToDeg(DegToRad(30)), test.ShouldAlmostEqual, 30)

	err := NewConfigValueError("fraction", 2.0, "in (0, 1]")
	test.That(t, err.Error(), test.ShouldEqual, `error validating "fraction": got 2, must be in (0, 1]`)
	test.That(t, NewDimensionMismatchError("normals", 8, 7).Error(), test.ShouldEqual, "normals has 7 entries, expected 8")

	path := filepath.Join(t.TempDir(), "x")
	test.That(t, os.WriteFile(path, []byte("x"), 0o600), test.ShouldBeNil)
	RemoveFileNoError(path)
	RemoveFileNoError(path)
	_, err = os.Stat(path)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}
