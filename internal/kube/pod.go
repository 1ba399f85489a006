package kube

import (
	"fmt"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/provision"
)

const claimVolumeName = "workspaced-volumes"

// podLabels are the same for every container of a workspace.
var podLabels = map[string]struct{}{
	provision.LabelWorkspace: {},
	provision.LabelOwner:     {},
	provision.LabelEnv:       {},
	provision.LabelPod:       {},
	provision.LabelEnvHash:   {},
}

// Pod builds the pod running every provisioned container of the environment.
// Container specific labels are stored as "<container>.<key>", and anything
// that isn't a valid label ends up in the annotations.
func Pod(env *common.Environment, id common.RuntimeIdentity, claim string) (*corev1.Pod, error) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        id.PodName(),
			Labels:      map[string]string{},
			Annotations: map[string]string{},
		},
		Spec: corev1.PodSpec{RestartPolicy: corev1.RestartPolicyAlways},
	}

	var needsClaim bool
	for _, name := range env.MachineNames() {
		spec, ok := env.Containers[name]
		if !ok {
			continue
		}

		c, err := buildContainer(spec)
		if err != nil {
			return nil, fmt.Errorf("container %q: %w", name, err)
		}
		pod.Spec.Containers = append(pod.Spec.Containers, c)
		needsClaim = needsClaim || len(c.VolumeMounts) > 0

		for key, value := range spec.Labels {
			if key == provision.LabelContainer {
				continue
			}
			if _, ok := podLabels[key]; !ok {
				key = name + "." + key
			}
			setLabel(&pod.ObjectMeta, key, value)
		}
	}
	if len(pod.Spec.Containers) == 0 {
		return nil, fmt.Errorf("environment %q has no provisioned containers", env.Name)
	}

	if needsClaim {
		pod.Spec.Volumes = []corev1.Volume{{
			Name: claimVolumeName,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: claim},
			},
		}}
	}
	return pod, nil
}

func setLabel(meta *metav1.ObjectMeta, key, value string) {
	if len(validation.IsQualifiedName(key)) == 0 && len(validation.IsValidLabelValue(value)) == 0 {
		meta.Labels[key] = value
		return
	}
	meta.Annotations[key] = value
}

func buildContainer(spec *common.ContainerSpec) (corev1.Container, error) {
	c := corev1.Container{
		Name:  spec.Name,
		Image: spec.Image,
		Args:  spec.Command,
	}

	// Kubernetes expands $(NAME) itself, in declaration order
	for _, v := range spec.Env {
		c.Env = append(c.Env, corev1.EnvVar{Name: v.Name, Value: v.Value})
	}

	for _, p := range spec.Ports {
		port, err := containerPort(p)
		if err != nil {
			return c, err
		}
		c.Ports = append(c.Ports, port)
	}

	if spec.MemoryLimit > 0 {
		c.Resources.Limits = corev1.ResourceList{
			corev1.ResourceMemory: *resource.NewQuantity(spec.MemoryLimit, resource.BinarySI),
		}
	}

	for _, v := range spec.Volumes {
		if v.Source == "" {
			return c, fmt.Errorf("volume %q has no claim sub path", v.Name)
		}
		c.VolumeMounts = append(c.VolumeMounts, corev1.VolumeMount{
			Name:      claimVolumeName,
			MountPath: v.Path,
			SubPath:   v.Source,
			ReadOnly:  v.ReadOnly,
		})
	}
	return c, nil
}

func containerPort(p common.Port) (corev1.ContainerPort, error) {
	num, transport, _ := strings.Cut(p.Port, "/")
	n, err := strconv.ParseInt(num, 10, 32)
	if err != nil {
		return corev1.ContainerPort{}, fmt.Errorf("port of server %q: %w", p.Server, err)
	}

	port := corev1.ContainerPort{ContainerPort: int32(n), Protocol: corev1.ProtocolTCP}
	switch transport {
	case "", "tcp":
	case "udp":
		port.Protocol = corev1.ProtocolUDP
	case "sctp":
		port.Protocol = corev1.ProtocolSCTP
	default:
		return port, fmt.Errorf("port of server %q has unknown transport %q", p.Server, transport)
	}
	return port, nil
}
